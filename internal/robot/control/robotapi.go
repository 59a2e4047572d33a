package control

import "go.uber.org/zap"

// RobotAPI abstracts the hardware actuation surface. EStop must be safe to
// call from the safety monitor's trigger goroutine at any time.
type RobotAPI interface {
	Drive(v, w float64) error
	KeyEvent(key, action string, modifiers []string) error
	MouseEvent(dx, dy, buttons, scroll int) error
	EStop() error
}

// StubRobotAPI logs every actuation instead of driving hardware. Used in
// development and in tests.
type StubRobotAPI struct {
	logger *zap.Logger
}

func NewStubRobotAPI(logger *zap.Logger) *StubRobotAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubRobotAPI{logger: logger}
}

func (s *StubRobotAPI) Drive(v, w float64) error {
	s.logger.Debug("drive", zap.Float64("v", v), zap.Float64("w", w))
	return nil
}

func (s *StubRobotAPI) KeyEvent(key, action string, modifiers []string) error {
	s.logger.Debug("kvm key", zap.String("key", key), zap.String("action", action))
	return nil
}

func (s *StubRobotAPI) MouseEvent(dx, dy, buttons, scroll int) error {
	s.logger.Debug("kvm mouse", zap.Int("dx", dx), zap.Int("dy", dy))
	return nil
}

func (s *StubRobotAPI) EStop() error {
	s.logger.Warn("hardware stop issued")
	return nil
}
