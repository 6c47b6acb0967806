package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/itchyny/gojq"
)

// recordFilter is a jq expression evaluated against each record's JSON form.
// The expression must yield exactly one boolean per record.
type recordFilter struct {
	query   *gojq.Query
	timeout time.Duration
}

// filterTimeout bounds the evaluation of the filter against a single record.
const filterTimeout = 250 * time.Millisecond

func parseRecordFilter(expr string) (*recordFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return &recordFilter{query: query, timeout: filterTimeout}, nil
}

func (f *recordFilter) Match(ctx context.Context, fields map[string]interface{}) (bool, error) {
	if f == nil {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	iter := f.query.RunWithContext(ctx, fields)
	var result interface{}
	for n := 0; ; n++ {
		v, ok := iter.Next()
		if !ok {
			if n == 0 {
				return false, fmt.Errorf("filter %q returned no result, expected 1", f.query.String())
			}
			break
		}
		if err, isErr := v.(error); isErr {
			return false, fmt.Errorf("filter %q: %w", f.query.String(), err)
		}
		if n > 0 {
			return false, fmt.Errorf("filter %q returned more than one result, expected 1", f.query.String())
		}
		result = v
	}
	b, ok := result.(bool)
	if !ok {
		return false, errors.New("filter must evaluate to a boolean")
	}
	return b, nil
}
