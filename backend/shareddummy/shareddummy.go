// Package shareddummy implements SharedMemoryManager (C10): a
// POSIX-shared-memory-backed dummy device that gives multiple OS
// processes a consistent view of the same simulated BARs, with
// attach-or-create semantics and stale-lock recovery when a prior
// participant died without cleaning up.
package shareddummy

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/fieldbus/deviceaccess/backend"
	"github.com/fieldbus/deviceaccess/internal/rawio"
)

// maxMembers bounds the number of processes that may attach to one
// shared-memory instance at once (SHARED_MEMORY_N_MAX_MEMBER).
const maxMembers = 64

// lockTimeout is how long Attach waits for the named mutex before
// assuming the holder died (try_lock_for(2s) in the source design).
const lockTimeout = 2 * time.Second

// requiredVersion guards against attaching to a segment laid out by an
// incompatible version of this package.
const requiredVersion = uint32(1)

// ShmName derives the stable shared-memory segment name for one
// (instance, map file, user) triple. Stable across restarts of the same
// instance-and-map combination, per spec.md §4.10.
func ShmName(instanceID, mapFileName, userName string) string {
	h := sha256.New()
	h.Write([]byte(instanceID))
	h.Write([]byte{0})
	h.Write([]byte(mapFileName))
	h.Write([]byte{0})
	h.Write([]byte(userName))
	sum := h.Sum(nil)
	return fmt.Sprintf("deviceaccess-dummy-%x", sum[:8])
}

// Manager owns one shared-memory segment: per-BAR vectors, the pid set
// of attached processes, and the required-version scalar. It satisfies
// backend.IOOpener.
type Manager struct {
	shmName  string
	dir      string // directory under which the backing files for shmName live; defaults to /dev/shm
	barSizes map[int]int
}

// NewManager constructs a manager for the named segment with the given
// per-BAR sizes (in bytes), taken from the catalogue's
// getBarSizesInBytesFromRegisterMapping equivalent.
func NewManager(shmName string, barSizes map[int]int) *Manager {
	return &Manager{
		shmName:  shmName,
		dir:      "/dev/shm",
		barSizes: barSizes,
	}
}

// WithDir overrides the backing directory (used by tests to avoid
// touching the real /dev/shm).
func (m *Manager) WithDir(dir string) *Manager {
	m.dir = dir
	return m
}

func (m *Manager) segmentDir() string {
	return filepath.Join(m.dir, m.shmName)
}

func (m *Manager) lockPath() string { return filepath.Join(m.segmentDir(), ".lock") }
func (m *Manager) pidSetPath() string { return filepath.Join(m.segmentDir(), ".pids") }
func (m *Manager) barPath(bar int) string {
	return filepath.Join(m.segmentDir(), fmt.Sprintf("bar%d.dat", bar))
}

// OpenChannels implements backend.IOOpener: it runs the attach-or-create
// protocol from spec.md §4.10 and returns one rawio.Channel per BAR.
func (m *Manager) OpenChannels(ctx context.Context) (map[int]rawio.Channel, error) {
	if err := os.MkdirAll(m.segmentDir(), 0o755); err != nil {
		return nil, fmt.Errorf("shareddummy: create segment dir: %w", err)
	}

	lockFile, err := m.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer m.releaseLock(lockFile)

	if err := m.checkVersion(); err != nil {
		return nil, err
	}

	reinit, err := m.reapStalePIDs()
	if err != nil {
		return nil, err
	}

	channels := make(map[int]rawio.Channel, len(m.barSizes))
	for bar, size := range m.barSizes {
		ch, err := m.openBar(bar, size, reinit)
		if err != nil {
			for _, c := range channels {
				_ = c.Close()
			}
			return nil, err
		}
		channels[bar] = ch
	}

	if err := m.appendOwnPID(); err != nil {
		for _, c := range channels {
			_ = c.Close()
		}
		return nil, err
	}

	return channels, nil
}

// CloseChannels implements backend.IOOpener: it removes this process's
// pid from the set and, if it was the last one, deletes the segment.
func (m *Manager) CloseChannels(channels map[int]rawio.Channel) error {
	for _, ch := range channels {
		_ = ch.Close()
	}

	lockFile, err := m.acquireLock(context.Background())
	if err != nil {
		// Mutex operations that cannot proceed leave state unknown;
		// per spec.md §4.10 this is a fatal condition for this
		// process's view of the segment, but we do not terminate the
		// whole program — we surface the error to the caller instead,
		// matching this package's "return, don't os.Exit" Go idiom.
		return fmt.Errorf("shareddummy: close: acquire lock: %w", err)
	}
	defer m.releaseLock(lockFile)

	pids, err := m.readPIDs()
	if err != nil {
		return err
	}
	pids = removePID(pids, os.Getpid())
	if err := m.writePIDs(pids); err != nil {
		return err
	}
	if len(pids) == 0 {
		return os.RemoveAll(m.segmentDir())
	}
	return nil
}

func (m *Manager) acquireLock(ctx context.Context) (*os.File, error) {
	f, err := os.OpenFile(m.lockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shareddummy: open lock file: %w", err)
	}

	deadline := time.Now().Add(lockTimeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if time.Now().After(deadline) {
			// Assume the holder died: recreate the lock file, which
			// drops any flock held by a now-defunct process, and try
			// once more.
			f.Close()
			if err := os.Remove(m.lockPath()); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("shareddummy: recreate stale lock: %w", err)
			}
			f, err = os.OpenFile(m.lockPath(), os.O_CREATE|os.O_RDWR, 0o644)
			if err != nil {
				return nil, fmt.Errorf("shareddummy: recreate lock file: %w", err)
			}
			if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
				f.Close()
				return nil, fmt.Errorf("shareddummy: lock after recreate: %w", err)
			}
			return f, nil
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (m *Manager) releaseLock(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	_ = f.Close()
}

func (m *Manager) checkVersion() error {
	path := filepath.Join(m.segmentDir(), ".version")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, requiredVersion)
		return os.WriteFile(path, buf, 0o644)
	}
	if err != nil {
		return fmt.Errorf("shareddummy: read version: %w", err)
	}
	if len(data) != 4 || binary.LittleEndian.Uint32(data) != requiredVersion {
		return fmt.Errorf("shareddummy: segment %s has an incompatible version", m.shmName)
	}
	return nil
}

// reapStalePIDs walks the stored pid set, drops entries whose process no
// longer exists, and reports whether the set was non-empty but became
// empty after cleanup — the signal to reinitialize every BAR vector
// because the previous generation is considered dead.
func (m *Manager) reapStalePIDs() (reinitialize bool, err error) {
	pids, err := m.readPIDs()
	if err != nil {
		return false, err
	}
	wasNonEmpty := len(pids) > 0

	live := pids[:0]
	for _, pid := range pids {
		exists, _ := process.PidExists(int32(pid))
		if exists {
			live = append(live, pid)
		}
	}
	if err := m.writePIDs(live); err != nil {
		return false, err
	}
	return wasNonEmpty && len(live) == 0, nil
}

func (m *Manager) appendOwnPID() error {
	pids, err := m.readPIDs()
	if err != nil {
		return err
	}
	if len(pids) >= maxMembers {
		return fmt.Errorf("shareddummy: segment %s is at capacity (%d members)", m.shmName, maxMembers)
	}
	pids = append(pids, os.Getpid())
	return m.writePIDs(pids)
}

func (m *Manager) readPIDs() ([]int, error) {
	data, err := os.ReadFile(m.pidSetPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("shareddummy: read pid set: %w", err)
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("shareddummy: corrupt pid set file")
	}
	pids := make([]int, len(data)/4)
	for i := range pids {
		pids[i] = int(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
	}
	return pids, nil
}

func (m *Manager) writePIDs(pids []int) error {
	buf := make([]byte, len(pids)*4)
	for i, pid := range pids {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], uint32(pid))
	}
	return os.WriteFile(m.pidSetPath(), buf, 0o644)
}

func removePID(pids []int, target int) []int {
	out := pids[:0]
	for _, p := range pids {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) openBar(bar, size int, reinitialize bool) (rawio.Channel, error) {
	path := m.barPath(bar)
	flags := os.O_CREATE | os.O_RDWR
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shareddummy: open BAR %d: %w", bar, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shareddummy: stat BAR %d: %w", bar, err)
	}
	if info.Size() != int64(size) || reinitialize {
		if err := f.Truncate(0); err != nil {
			return nil, fmt.Errorf("shareddummy: truncate BAR %d: %w", bar, err)
		}
		if err := f.Truncate(int64(size)); err != nil {
			return nil, fmt.Errorf("shareddummy: size BAR %d: %w", bar, err)
		}
	}

	return rawio.NewMmapChannel(int(f.Fd()), 0, size)
}

var _ backend.IOOpener = (*Manager)(nil)
