package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/glinharesb/sekeys/internal/hsm"
)

func TestRecordOperation(t *testing.T) {
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpSign, "ecc", StatusSuccess))
	RecordOperation(OpSign, "ecc", time.Now(), nil)
	after := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpSign, "ecc", StatusSuccess))
	assert.Equal(t, before+1, after)
}

func TestRecordOperationHardwareFault(t *testing.T) {
	faults := HardwareFaultsTotal.WithLabelValues(OpGenerate, "0x8003")
	before := testutil.ToFloat64(faults)

	RecordOperation(OpGenerate, "rsa", time.Now(), &hsm.HardwareFault{Code: 0x8003})
	assert.Equal(t, before+1, testutil.ToFloat64(faults))

	// Plain errors do not count as faults.
	RecordOperation(OpGenerate, "rsa", time.Now(), errors.New("bad curve"))
	assert.Equal(t, before+1, testutil.ToFloat64(faults))
}

func TestRecordAdvisory(t *testing.T) {
	c := AdvisoriesTotal.WithLabelValues("text_payload")
	before := testutil.ToFloat64(c)
	RecordAdvisory("text_payload")
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestRecordGRPCRequest(t *testing.T) {
	RecordGRPCRequest("/sekeys.v1.RandomService/GetRandom", "OK", time.Millisecond)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(GRPCRequestsTotal), 1)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(GRPCRequestDuration), 1)
}
