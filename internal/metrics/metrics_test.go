// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCommandsTotalIncrements(t *testing.T) {
	m, _ := New()
	m.CommandsTotal.WithLabelValues("GET").Inc()
	m.CommandsTotal.WithLabelValues("GET").Inc()
	m.CommandsTotal.WithLabelValues("SET").Inc()

	if got := testutil.ToFloat64(m.CommandsTotal.WithLabelValues("GET")); got != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestGaugesSettable(t *testing.T) {
	m, _ := New()
	m.ConnectionsActive.Set(5)
	if got := testutil.ToFloat64(m.ConnectionsActive); got != 5 {
		t.Fatalf("got %v", got)
	}
}
