package engine

import (
	"context"
	"fmt"
)

type fakeFetcher map[string]string

func (f fakeFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	src, ok := f[ref]
	if !ok {
		return nil, fmt.Errorf("not found: %s", ref)
	}
	return []byte(src), nil
}
