// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package groutine starts named, pprof-labelled goroutines so the scheduler,
// event pump and line server flows can be told apart in profiles and logs.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// Go starts fn in a goroutine labelled with name. If wg is non-nil it is
// incremented before the goroutine starts and released when fn returns.
func Go(parent context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	if wg != nil {
		wg.Add(1)
	}

	labels := pprof.Labels("goroutine_name", name)
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		pprof.Do(parent, labels, func(ctx context.Context) {
			fn(context.WithValue(ctx, nameKey, name))
		})
	}()
}

// Name retrieves the goroutine name from the context
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(nameKey).(string); ok {
		return s
	}
	return ""
}
