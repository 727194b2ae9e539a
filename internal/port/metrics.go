package port

import "time"

type MetricsRecorder interface {
	SaleCreated(units int, elapsed time.Duration)
	SaleFailed(kind, state string, elapsed time.Duration)
}
