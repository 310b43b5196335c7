package dhis2

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// codeMaxLen is the DHIS2 limit on entity codes.
const codeMaxLen = 50

// ToCode normalizes a natural key (form name, field name, location code)
// into a DHIS2-safe code. The transform is pure: the same input yields
// the same output in every process, which makes the code usable as the
// join key between the two systems.
func ToCode(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToUpper(r))
		default:
			pendingSep = true
		}
	}
	code := b.String()
	if utf8.RuneCountInString(code) > codeMaxLen {
		// Cut on a rune boundary; letters outside ASCII survive the
		// uppercase mapping and must not be split mid-sequence.
		code = string([]rune(code)[:codeMaxLen])
		code = strings.TrimRight(code, "_")
	}
	return code
}

// ExportClass is the closed set of form export targets. The class is
// chosen at configuration-load time and fixed for the life of a form
// mapping.
type ExportClass int

const (
	// ClassEvent maps a form to a DHIS2 program; one event per submission.
	ClassEvent ExportClass = iota
	// ClassDataSet maps a form to an aggregate data set; one
	// data-value-set per submission.
	ClassDataSet
)

func (c ExportClass) String() string {
	switch c {
	case ClassEvent:
		return "event"
	case ClassDataSet:
		return "data_set"
	default:
		return fmt.Sprintf("ExportClass(%d)", int(c))
	}
}

// Prefix is the namespace tag for data element codes. The same field
// name can exist in an event form and a data-set form as logically
// distinct data elements.
func (c ExportClass) Prefix() string {
	if c == ClassDataSet {
		return "AGGREGATE"
	}
	return "TRACKER"
}

// ParseExportClass converts a configured class string.
func ParseExportClass(s string) (ExportClass, error) {
	switch s {
	case "event":
		return ClassEvent, nil
	case "data_set":
		return ClassDataSet, nil
	default:
		return 0, fmt.Errorf("unknown export class %q", s)
	}
}

// ElementKey identifies a data element by export class and field name.
// Keeping the two parts separate until code rendering removes the
// collision risk of field names containing the separator.
type ElementKey struct {
	Class ExportClass
	Field string
}

// Code renders the namespaced DHIS2 code for the element.
func (k ElementKey) Code() string {
	return ToCode(k.Class.Prefix() + "_" + k.Field)
}

// eventUIDLen is the length of a DHIS2 UID.
const eventUIDLen = 11

// uidSentinel replaces a leading digit; DHIS2 identifiers must start
// with a letter.
const uidSentinel = 'X'

// EventUID derives a DHIS2-safe event identifier from a submission
// instance id (typically "uuid:<uuid>"): the last eleven characters,
// with a leading digit replaced by the sentinel letter.
func EventUID(instanceID string) string {
	s := instanceID
	if len(s) > eventUIDLen {
		s = s[len(s)-eventUIDLen:]
	}
	if s == "" {
		return s
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = string(uidSentinel) + s[1:]
	}
	return s
}
