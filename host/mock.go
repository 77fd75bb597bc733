package host

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// Mock is a Runner test double.
type Mock struct {
	mock.Mock
}

var _ Runner = (*Mock)(nil)

// Run records the call. Expectations are set with the command name followed
// by each argument, e.g. m.On("bash", "/etc/wireguard/wg0-acl-setup.sh").
func (m *Mock) Run(_ context.Context, name string, args ...string) (string, error) {
	callArgs := make([]any, 0, len(args)+1)
	callArgs = append(callArgs, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}

	ret := m.Called(callArgs...)
	return ret.String(0), ret.Error(1)
}
