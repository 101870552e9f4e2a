package catalog

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
)

const maxLineBytes = 1 << 20

// LineError reports a feed line that could not be decoded.
type LineError struct {
	Path string
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return e.Path + ":" + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

func (e *LineError) Unwrap() error { return e.Err }

// ReadFeed streams a gzip-compressed NDJSON feed, one Listing per line, and
// calls fn for each. Blank lines are skipped. A line that does not decode is
// passed to onBad and reading continues; an error from fn stops reading.
func ReadFeed(ctx context.Context, path string, fn func(Listing) error, onBad func(*LineError)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		l, err := decodeListing(jx.DecodeBytes(raw))
		if err != nil {
			onBad(&LineError{Path: path, Line: line, Err: err})
			continue
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

func decodeListing(d *jx.Decoder) (Listing, error) {
	var l Listing
	err := d.Obj(func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "name":
			l.Name, err = d.Str()
		case "description":
			l.Description, err = d.Str()
		case "price":
			l.Price, err = decodeDecimal(d)
		case "originalPrice":
			l.OriginalPrice, err = decodeDecimal(d)
		case "condition":
			l.Condition, err = d.Str()
		case "imageUrl":
			l.ImageURL, err = d.Str()
		case "status":
			l.Status, err = d.Str()
		case "category":
			l.Category, err = d.Str()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return l, err
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	default:
		return decimal.Zero, errors.New("expected number")
	}
}
