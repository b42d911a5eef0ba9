package aws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleExpression(t *testing.T) {
	tests := []struct {
		expr    string
		want    string
		wantErr bool
	}{
		{expr: "0 0/5 * * * *", want: "cron(0/5 * * * ? *)"},
		{expr: "0 30 8 * * MON-FRI", want: "cron(30 8 ? * MON-FRI *)"},
		{expr: "0 0 12 1 * *", want: "cron(0 12 1 * ? *)"},
		{expr: "0 0 12 ? * 2", want: "cron(0 12 ? * 2 *)"},
		{expr: "@every 5m", want: "rate(5 minutes)"},
		{expr: "@every 1h", want: "rate(1 hour)"},
		{expr: "@every 48h", want: "rate(2 days)"},
		{expr: "@every 90s", wantErr: true},
		{expr: "@every soon", wantErr: true},
		{expr: "*/5 * * * *", wantErr: true},
		{expr: "15 * * * * *", wantErr: true},
		{expr: "0 0 12 1 * MON", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := scheduleExpression(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
