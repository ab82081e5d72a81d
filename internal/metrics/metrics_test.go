// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/pkg/ledger"
)

func TestObserver(t *testing.T) {
	var o Observer

	before := testutil.ToFloat64(attemptsTotal.WithLabelValues("metrics-test", "timeout"))
	o.ObserveAttempt("metrics-test", ledger.OutcomeTimeout, 30*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(attemptsTotal.WithLabelValues("metrics-test", "timeout")))

	before = testutil.ToFloat64(routesTotal.WithLabelValues("exhausted"))
	o.ObserveRoute("exhausted", 3, time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(routesTotal.WithLabelValues("exhausted")))

	before = testutil.ToFloat64(finopsDecisions.WithLabelValues("switch_to_gemini"))
	o.ObserveDecision("switch_to_gemini")
	assert.Equal(t, before+1, testutil.ToFloat64(finopsDecisions.WithLabelValues("switch_to_gemini")))

	before = testutil.ToFloat64(rateLimited.WithLabelValues("/v1/route"))
	RecordRateLimited("/v1/route")
	assert.Equal(t, before+1, testutil.ToFloat64(rateLimited.WithLabelValues("/v1/route")))
}

func TestHandler(t *testing.T) {
	LedgerWriteFailures.Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "switchyard_ledger_write_failures_total")
}
