// Package sok provides asynchronous, suspension-based TCP client/server
// sockets on top of a single-threaded readiness selector (epoll on Linux,
// kqueue on Darwin/BSD). See Selector, Registration, ClientSocket,
// ServerSocket and Buffer for the component contracts.
package sok

import "sync"

var (
	defaultSelector     *Selector
	defaultSelectorOnce sync.Once
	defaultSelectorErr  error
)

func defaultSel() (*Selector, error) {
	defaultSelectorOnce.Do(func() {
		defaultSelector, defaultSelectorErr = NewSelector()
	})
	return defaultSelector, defaultSelectorErr
}

// CreateTCPClientSocket resolves address:port, connects a non-blocking
// stream socket on the package's shared default Selector, and returns the
// connected client. Use Selector.ConnectTCP directly to run multiple
// independent selectors.
func CreateTCPClientSocket(address string, port int) (*ClientSocket, error) {
	sel, err := defaultSel()
	if err != nil {
		return nil, err
	}
	return sel.ConnectTCP(address, port)
}

// CreateTCPServerSocket resolves address, binds and listens on the
// package's shared default Selector, and returns the listening server.
func CreateTCPServerSocket(address string, port int) (*ServerSocket, error) {
	sel, err := defaultSel()
	if err != nil {
		return nil, err
	}
	return sel.ListenTCP(address, port)
}
