package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-go/internal/engine"
)

func TestParsePeriod(t *testing.T) {
	const day = 24 * time.Hour
	tests := []struct {
		name    string
		period  string
		want    time.Duration
		wantErr bool
	}{
		{name: "days", period: "30d", want: 30 * day},
		{name: "months", period: "6m", want: 180 * day},
		{name: "years", period: "1Y", want: 365 * day},
		{name: "trimmed", period: " 2d ", want: 2 * day},
		{name: "largest year count", period: "292y", want: 292 * 365 * day},
		{name: "year overflow", period: "293y", wantErr: true},
		{name: "month overflow", period: "4000m", wantErr: true},
		{name: "day overflow", period: "200000d", wantErr: true},
		{name: "zero", period: "0d", wantErr: true},
		{name: "negative", period: "-3d", wantErr: true},
		{name: "weeks", period: "2w", wantErr: true},
		{name: "empty", period: "", wantErr: true},
		{name: "no number", period: "d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.ParsePeriod(tt.period)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Positive(t, got)
		})
	}
}
