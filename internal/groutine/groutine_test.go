// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGo_NameAndLabel(t *testing.T) {
	var wg sync.WaitGroup
	var name, label string

	Go(context.Background(), &wg, "scheduler", func(ctx context.Context) {
		name = Name(ctx)
		label, _ = pprof.Label(ctx, "goroutine_name")
	})
	wg.Wait()

	assert.Equal(t, "scheduler", name)
	assert.Equal(t, "scheduler", label)
}

func TestName_Unnamed(t *testing.T) {
	assert.Empty(t, Name(context.Background()))
}
