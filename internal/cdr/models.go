package cdr

import (
	"errors"
	"time"
)

// Record is one call leg as reported by the PBX.
//
// UniqueID is the dedup key: re-ingesting the same id overwrites the row.
type Record struct {
	UniqueID    string    `json:"uniqueid" db:"uniqueid"`
	Start       time.Time `json:"start" db:"start"`
	Src         string    `json:"src" db:"src"`
	Dst         string    `json:"dst" db:"dst"`
	Disposition string    `json:"disposition" db:"disposition"`

	// Duration and BillSec are in seconds.
	Duration int `json:"duration" db:"duration"`
	BillSec  int `json:"billsec" db:"billsec"`

	ActionType  string `json:"action_type" db:"action_type"`
	AccountCode string `json:"accountcode" db:"accountcode"`
	Channel     string `json:"channel" db:"channel"`
	DContext    string `json:"dcontext" db:"dcontext"`
	DstChannel  string `json:"dstchannel" db:"dstchannel"`
	LastApp     string `json:"lastapp" db:"lastapp"`
	LastData    string `json:"lastdata" db:"lastdata"`
	AMAFlags    int    `json:"amaflags" db:"amaflags"`
	UserField   string `json:"userfield" db:"userfield"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AMA flag values as written by Asterisk.
const (
	AMAOmit          = 1
	AMABilling       = 2
	AMADocumentation = 3
)

// Filter narrows a query. Empty fields are ignored.
// Src, Dst and ActionType match as substrings; Disposition matches exactly.
type Filter struct {
	Src         string
	Dst         string
	Disposition string
	ActionType  string
	From        time.Time
	To          time.Time
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type QueryResult struct {
	Records      []Record       `json:"records"`
	Pagination   Pagination     `json:"pagination"`
	Dispositions map[string]int `json:"dispositions"`
}

var (
	ErrNotFound        = errors.New("cdr: not found")
	ErrMalformedRecord = errors.New("cdr: malformed record")
	ErrInvalidQuery    = errors.New("cdr: invalid query")
)
