package vault

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing engine operation.
type OperationLog struct {
	Operation string
	MemberID  MemberID
	Related   MemberID
	Amount    Centavos
	Reference string
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithSettings overrides the settings provider with a fixed snapshot.
func WithSettings(settings Settings) ServiceOption {
	return func(service *Service) {
		service.settingsFn = func() Settings { return settings }
	}
}

// WithSettingsProvider wires a dynamic settings source (kill switch,
// maintenance flags, rates) re-read on every operation.
func WithSettingsProvider(settingsFn func() Settings) ServiceOption {
	return func(service *Service) {
		if settingsFn != nil {
			service.settingsFn = settingsFn
		}
	}
}
