package types

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Defaults for Rules.
const (
	DefaultSeparator    = "."
	DefaultMaxKeyLength = 255
)

// Path is a sequence of keys addressing a Brick from a starting node. The
// empty Path addresses the starting node itself.
type Path []string

// String joins the path with DefaultSeparator.
func (p Path) String() string { return strings.Join(p, DefaultSeparator) }

// Join joins the path with sep.
func (p Path) Join(sep string) string { return strings.Join(p, sep) }

// Append returns a new path with keys appended; p is not modified.
func (p Path) Append(keys ...string) Path {
	out := make(Path, 0, len(p)+len(keys))
	return append(append(out, p...), keys...)
}

// HasPrefix reports whether q is a prefix of p.
func (p Path) HasPrefix(q Path) bool {
	if len(q) > len(p) {
		return false
	}
	for i := range q {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Rules are the boundary checks applied before data enters a Brick. A
// Rules value is read-only configuration; its methods keep no state.
type Rules struct {
	MaxKeyLength int    // maximum key length in runes; 0 means DefaultMaxKeyLength
	Separator    string // path separator; empty means DefaultSeparator
	AllowEmpty   bool   // accept payloads with zero rows or columns
}

// DefaultRules returns the rules used by detached bricks.
func DefaultRules() Rules {
	return Rules{MaxKeyLength: DefaultMaxKeyLength, Separator: DefaultSeparator}
}

func (r Rules) separator() string {
	if r.Separator == "" {
		return DefaultSeparator
	}
	return r.Separator
}

// Join renders p with the rules' separator.
func (r Rules) Join(p Path) string { return p.Join(r.separator()) }

func (r Rules) maxKeyLength() int {
	if r.MaxKeyLength <= 0 {
		return DefaultMaxKeyLength
	}
	return r.MaxKeyLength
}

// CheckKey fails with ErrInvalidKey when key is empty, contains the path
// separator, or is longer than MaxKeyLength.
func (r Rules) CheckKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: key is empty", ErrInvalidKey)
	case strings.Contains(key, r.separator()):
		return fmt.Errorf("%w: key %q contains separator %q", ErrInvalidKey, key, r.separator())
	case utf8.RuneCountInString(key) > r.maxKeyLength():
		return fmt.Errorf("%w: key exceeds %d characters", ErrInvalidKey, r.maxKeyLength())
	}
	return nil
}

// CheckPath fails with ErrInvalidPath when any segment fails CheckKey.
func (r Rules) CheckPath(p Path) error {
	for i, key := range p {
		if err := r.CheckKey(key); err != nil {
			return fmt.Errorf("%w: segment %d: %w", ErrInvalidPath, i+1, err)
		}
	}
	return nil
}

// ParsePath splits s on the separator, trims whitespace around each
// segment, and checks the result. A blank string is the empty path.
func (r Rules) ParsePath(s string) (Path, error) {
	if strings.TrimSpace(s) == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, r.separator())
	p := make(Path, len(parts))
	for i, part := range parts {
		p[i] = strings.TrimSpace(part)
	}
	if err := r.CheckPath(p); err != nil {
		return nil, err
	}
	return p, nil
}

// CheckShape fails with ErrEmptyPayload when g has no rows or no columns
// (unless AllowEmpty) and with ErrIrregularShape when a row's width
// differs from the first row's.
func (r Rules) CheckShape(g Grid) error {
	if len(g) > 0 {
		want := len(g[0])
		for i, row := range g {
			if len(row) != want {
				return &CellError{Row: i, Col: len(row), Err: fmt.Errorf("%w: row has %d columns, expected %d", ErrIrregularShape, len(row), want)}
			}
		}
	}
	if !r.AllowEmpty && (len(g) == 0 || len(g[0]) == 0) {
		return fmt.Errorf("%w: %d rows, %d columns", ErrEmptyPayload, len(g), g.Width())
	}
	return nil
}

// checkPayload applies the empty policy to an already built payload.
func (r Rules) checkPayload(p *Payload) error {
	if p == nil {
		return fmt.Errorf("%w: no payload", ErrEmptyPayload)
	}
	if !r.AllowEmpty && p.IsEmpty() {
		return fmt.Errorf("%w: %d rows, %d columns", ErrEmptyPayload, p.rows, p.cols)
	}
	return nil
}

// DType names the element type a payload is coerced to at the boundary.
type DType string

// Supported dtypes.
const (
	DTypeAny    DType = "any"
	DTypeNumber DType = "number"
	DTypeText   DType = "text"
	DTypeBool   DType = "bool"
)

// ParseDType parses a dtype name; the empty string is DTypeAny.
func ParseDType(s string) (DType, error) {
	switch DType(strings.ToLower(strings.TrimSpace(s))) {
	case "", DTypeAny:
		return DTypeAny, nil
	case DTypeNumber:
		return DTypeNumber, nil
	case DTypeText:
		return DTypeText, nil
	case DTypeBool:
		return DTypeBool, nil
	}
	return "", fmt.Errorf("%w: %q", ErrDTypeUnknown, s)
}

// CoerceTypes casts every non-empty cell of p to dt on a best-effort
// basis. It fails with a CellError wrapping ErrTypeMismatch that names the
// first cell that cannot be cast.
func CoerceTypes(p *Payload, dt DType) (*Payload, error) {
	if dt == "" || dt == DTypeAny {
		return p, nil
	}
	if _, err := ParseDType(string(dt)); err != nil {
		return nil, err
	}
	return p.Map(func(c Cell) (Cell, error) { return CoerceCell(c, dt) })
}

// CoerceCell casts a single cell to dt. Empty cells stay empty.
func CoerceCell(c Cell, dt DType) (Cell, error) {
	if c.IsEmpty() {
		return c, nil
	}
	switch dt {
	case DTypeNumber:
		switch c.kind {
		case CellNumber:
			return c, nil
		case CellBool:
			if c.flag {
				return Number(1), nil
			}
			return Number(0), nil
		case CellText:
			s := strings.TrimSpace(c.text)
			if s == "" {
				return Empty(), nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return Cell{}, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, c.text)
			}
			return Number(f), nil
		}
	case DTypeText:
		return Text(c.String()), nil
	case DTypeBool:
		switch c.kind {
		case CellBool:
			return c, nil
		case CellNumber:
			return Bool(c.num != 0), nil
		case CellText:
			switch strings.ToLower(strings.TrimSpace(c.text)) {
			case "true", "yes", "1":
				return Bool(true), nil
			case "false", "no", "0":
				return Bool(false), nil
			case "":
				return Empty(), nil
			}
			return Cell{}, fmt.Errorf("%w: %q is not a boolean", ErrTypeMismatch, c.text)
		}
	case DTypeAny, "":
		return c, nil
	}
	return Cell{}, fmt.Errorf("%w: cannot cast %s to %s", ErrTypeMismatch, c.kind, dt)
}
