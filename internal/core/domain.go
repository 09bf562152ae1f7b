package core

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

const (
	// Uncategorized is the sentinel category that absorbs entries whose
	// category is deleted. It is created lazily on the first delete.
	Uncategorized = "uncategorized"

	// DefaultNotesColumn is the annotation column used when none is given.
	DefaultNotesColumn = "notes"

	MaxNameLen        = 100
	MaxColumnNameLen  = 50
	MaxDescriptionLen = 500
)

// DefaultCategories are created with every new sheet, in display order.
var DefaultCategories = []string{
	"food", "transport", "utilities", "entertainment", "shopping",
	"healthcare", "education", "savings", "other",
}

type (
	// Date is a calendar day with no time component. The embedded time is
	// always UTC midnight so Date values compare and hash by day.
	Date struct {
		time.Time
	}

	// Sheet is a named, optionally PIN-gated container of categories and
	// entries, owned by one user.
	Sheet struct {
		ID        string
		OwnerID   string
		Name      string
		HasPIN    bool
		CreatedAt time.Time
	}

	// Category is a named bucket entries are classified into. Names are
	// stored normalized (lowercase, trimmed) and are unique per sheet.
	Category struct {
		ID           string
		SheetID      string
		Name         string
		DisplayOrder int
		CreatedAt    time.Time
	}

	// Entry is a single monetary amount for one category on one calendar
	// day within one sheet. The category is a denormalized name, not a
	// reference; renames rewrite all affected entries. A stored amount is
	// never zero: zero means "no entry".
	Entry struct {
		ID          string
		SheetID     string
		OwnerID     string
		Date        Date
		Category    string
		Amount      Money
		Description string
		CreatedAt   time.Time
	}

	// Annotation is a free-text note attached to an entry under a named
	// column. At most one annotation exists per (entry, column).
	Annotation struct {
		ID          string
		EntryID     string
		OwnerID     string
		Column      string
		Description string
		CreatedAt   time.Time
	}

	// CellKey addresses one grid cell: the (date, category) pair that maps
	// to zero or one entry within a sheet.
	CellKey struct {
		Date     Date
		Category string
	}
)

var (
	ErrEmptyOwner       = errors.New("empty owner id")
	ErrEmptySheet       = errors.New("empty sheet id")
	ErrEmptyName        = errors.New("empty name")
	ErrNameTooLong      = errors.New("name too long")
	ErrInvalidPIN       = errors.New("pin must be exactly 4 digits")
	ErrEmptyDescription = errors.New("empty description")
)

// NewDate builds a Date at UTC midnight for the given calendar day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// DateOf truncates an arbitrary time to its UTC calendar day.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, int(m), d)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

// MonthKey returns the YYYY-MM bucket the date falls in.
func (d Date) MonthKey() string {
	return d.Format("2006-01")
}

// In reports whether the date falls inside the given calendar month.
func (d Date) In(m Month) bool {
	return d.Year() == m.Year && d.Time.Month() == m.Month
}

// NormalizeName lowercases and trims a category or sheet name, collapsing
// inner runs of whitespace to single spaces.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), " ")
}

// ValidateName checks a normalized category or sheet name.
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}

// ValidatePIN accepts only a 4-digit numeric PIN. An empty PIN is valid and
// means the sheet is unprotected.
func ValidatePIN(pin string) error {
	if pin == "" {
		return nil
	}
	if len(pin) != 4 {
		return ErrInvalidPIN
	}
	for _, r := range pin {
		if !unicode.IsDigit(r) {
			return ErrInvalidPIN
		}
	}
	return nil
}

func (e Entry) Validate() error {
	if strings.TrimSpace(e.SheetID) == "" {
		return ErrEmptySheet
	}
	if strings.TrimSpace(e.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if err := ValidateName(e.Category); err != nil {
		return err
	}
	// Zero is "no entry" and must never be persisted.
	if e.Amount.Cents == 0 {
		return ErrInvalidAmount
	}
	if len(e.Description) > MaxDescriptionLen {
		return errors.New("description too long")
	}
	return nil
}

func (a Annotation) Validate() error {
	if strings.TrimSpace(a.EntryID) == "" {
		return errors.New("empty entry id")
	}
	if strings.TrimSpace(a.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if a.Column == "" {
		return errors.New("empty column name")
	}
	if len(a.Column) > MaxColumnNameLen {
		return errors.New("column name too long")
	}
	if strings.TrimSpace(a.Description) == "" {
		return ErrEmptyDescription
	}
	return nil
}

// Cell returns the grid cell this entry occupies.
func (e Entry) Cell() CellKey {
	return CellKey{Date: e.Date, Category: e.Category}
}
