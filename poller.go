package sok

// maxPollEvents bounds how many ready descriptors a single wait() call
// returns at once.
const maxPollEvents = 256

// direction is a single readiness direction.
type direction int

const (
	dirRead direction = iota
	dirWrite
)

// readyEvent reports one descriptor's readiness state for a single poll tick.
type readyEvent struct {
	fd    int
	read  bool
	write bool
	// hup/errored indicates the platform reported an error or hangup
	// condition (EPOLLERR/EPOLLHUP, EV_EOF/EV_ERROR) that the Selector must
	// translate into a registration close. EPOLLRDHUP alone is reported as
	// read, so the peer's half-close surfaces as a 0-byte read.
	hup bool
	err error
}

// poller is the minimal platform polling primitive the Selector drives.
// Implementations: poller_epoll_linux.go (epoll) and
// poller_kqueue_bsd.go (kqueue, darwin/freebsd/netbsd/openbsd/dragonfly).
type poller interface {
	// add registers fd for no interest; interest is set via modify.
	add(fd int) error
	// modify updates the interest mask (read/write) for fd.
	modify(fd int, read, write bool) error
	// remove deregisters fd. Safe to call if fd was never added.
	remove(fd int) error
	// wait blocks (up to timeoutMs, -1 for indefinite) and returns ready events.
	wait(timeoutMs int, out []readyEvent) ([]readyEvent, error)
	// close releases the underlying poll fd.
	close() error
}

// newPlatformPoller constructs the poller for the current GOOS; see the
// build-tagged poller_epoll_linux.go / poller_kqueue_bsd.go files.
func newPlatformPoller() (poller, error) {
	return newOSPoller()
}
