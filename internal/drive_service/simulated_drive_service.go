package drive_service

import (
	"sync"
	"time"

	"github.com/AnishMulay/flashfs/internal/log_service"
	"github.com/google/uuid"
)

const maxQueueDepth = 1000

// SimulatedDriveService models one SSD: a bounded FIFO request queue drained
// by a single worker goroutine, an in-memory byte store keyed by path, and a
// per-type latency sleep before each operation.
type SimulatedDriveService struct {
	driveID int
	ls      log_service.LogService

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*queuedRequest
	stopped bool
	stall   chan struct{}

	storageMu sync.RWMutex
	storage   map[string][]byte

	done chan struct{}
}

type queuedRequest struct {
	req        *IORequest
	completion *Completion
}

func NewSimulatedDriveService(driveID int, ls log_service.LogService) *SimulatedDriveService {
	d := &SimulatedDriveService{
		driveID: driveID,
		ls:      ls,
		storage: make(map[string][]byte),
		done:    make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)

	d.ls.Info(log_service.LogEvent{
		Message:  "Initializing simulated drive",
		Metadata: map[string]any{"drive": driveID},
	})
	go d.processIO()
	return d
}

func (d *SimulatedDriveService) DriveID() int {
	return d.driveID
}

func (d *SimulatedDriveService) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// EnqueueIO submits a request and returns its completion handle. Submission
// never blocks: a full queue resolves the handle immediately with
// ErrDriveBusy, a stopped drive with ErrDriveStopped.
func (d *SimulatedDriveService) EnqueueIO(req *IORequest) *Completion {
	completion := newCompletion()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		completion.resolve(IOResult{Bytes: -1, Err: ErrDriveStopped})
		return completion
	}
	if len(d.queue) >= maxQueueDepth {
		d.mu.Unlock()
		d.ls.Warn(log_service.LogEvent{
			Message:  "Drive queue saturated, rejecting request",
			Metadata: map[string]any{"drive": d.driveID, "type": req.Type.String(), "requestID": req.ID},
		})
		completion.resolve(IOResult{Bytes: -1, Err: ErrDriveBusy})
		return completion
	}
	d.queue = append(d.queue, &queuedRequest{req: req, completion: completion})
	d.mu.Unlock()
	d.cond.Signal()
	return completion
}

// Close stops the worker. Requests already queued are drained before the
// worker exits; Close returns once it has.
func (d *SimulatedDriveService) Close() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.stopped = true
	d.mu.Unlock()
	d.cond.Broadcast()
	<-d.done
	d.ls.Info(log_service.LogEvent{
		Message:  "Shut down simulated drive",
		Metadata: map[string]any{"drive": d.driveID},
	})
}

// setStallGate installs a gate the worker blocks on before processing each
// request. Test hook for queue-saturation scenarios.
func (d *SimulatedDriveService) setStallGate(gate chan struct{}) {
	d.mu.Lock()
	d.stall = gate
	d.mu.Unlock()
}

func (d *SimulatedDriveService) processIO() {
	defer close(d.done)

	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.stopped {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.stopped {
			d.mu.Unlock()
			return
		}
		gate := d.stall
		d.mu.Unlock()

		// The gate is honored before dequeuing so a stalled worker leaves
		// the queue's occupancy observable.
		if gate != nil {
			<-gate
		}

		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			continue
		}
		item := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		simulateLatency(item.req.Type)
		item.completion.resolve(d.execute(item.req))
	}
}

func (d *SimulatedDriveService) execute(req *IORequest) (result IOResult) {
	defer func() {
		if r := recover(); r != nil {
			d.ls.Error(log_service.LogEvent{
				Message:  "Drive request processing failed",
				Metadata: map[string]any{"drive": d.driveID, "type": req.Type.String(), "requestID": req.ID, "panic": r},
			})
			result = IOResult{Bytes: -1, Err: ErrDriveIO}
		}
	}()

	switch req.Type {
	case IORead:
		return d.readEntry(req)
	case IOWrite:
		return d.writeEntry(req)
	case IOTruncate:
		return d.truncateEntry(req)
	case IODelete:
		return d.deleteEntry(req)
	default:
		// Latency-only traversal: CREATE/MKDIR/RMDIR/RENAME/CHMOD/CHOWN/
		// UTIMENS carry no store mutation at this layer.
		d.ls.Debug(log_service.LogEvent{
			Message:  "Drive processed metadata request",
			Metadata: map[string]any{"drive": d.driveID, "type": req.Type.String(), "path": req.Path},
		})
		return IOResult{}
	}
}

func (d *SimulatedDriveService) readEntry(req *IORequest) IOResult {
	d.storageMu.RLock()
	defer d.storageMu.RUnlock()

	entry, ok := d.storage[req.Path]
	if !ok {
		d.ls.Debug(log_service.LogEvent{
			Message:  "Drive read miss",
			Metadata: map[string]any{"drive": d.driveID, "path": req.Path},
		})
		return IOResult{Bytes: -1, Err: ErrBlockNotFound}
	}

	stored := int64(len(entry))
	if req.Offset >= stored {
		return IOResult{Bytes: 0}
	}
	toRead := req.Size
	if stored-req.Offset < toRead {
		toRead = stored - req.Offset
	}
	data := make([]byte, toRead)
	copy(data, entry[req.Offset:req.Offset+toRead])

	d.ls.Debug(log_service.LogEvent{
		Message:  "Drive read",
		Metadata: map[string]any{"drive": d.driveID, "path": req.Path, "offset": req.Offset, "bytes": toRead},
	})
	return IOResult{Bytes: toRead, Data: data}
}

func (d *SimulatedDriveService) writeEntry(req *IORequest) IOResult {
	d.storageMu.Lock()
	defer d.storageMu.Unlock()

	entry := d.storage[req.Path]
	need := req.Offset + int64(len(req.Data))
	if int64(len(entry)) < need {
		grown := make([]byte, need)
		copy(grown, entry)
		entry = grown
	}
	copy(entry[req.Offset:], req.Data)
	d.storage[req.Path] = entry

	d.ls.Debug(log_service.LogEvent{
		Message:  "Drive write",
		Metadata: map[string]any{"drive": d.driveID, "path": req.Path, "offset": req.Offset, "bytes": len(req.Data)},
	})
	return IOResult{Bytes: int64(len(req.Data))}
}

func (d *SimulatedDriveService) truncateEntry(req *IORequest) IOResult {
	d.storageMu.Lock()
	defer d.storageMu.Unlock()

	entry, ok := d.storage[req.Path]
	if !ok {
		return IOResult{Bytes: -1, Err: ErrBlockNotFound}
	}
	resized := make([]byte, req.Size)
	copy(resized, entry)
	d.storage[req.Path] = resized

	d.ls.Debug(log_service.LogEvent{
		Message:  "Drive truncate",
		Metadata: map[string]any{"drive": d.driveID, "path": req.Path, "size": req.Size},
	})
	return IOResult{}
}

func (d *SimulatedDriveService) deleteEntry(req *IORequest) IOResult {
	d.storageMu.Lock()
	defer d.storageMu.Unlock()

	delete(d.storage, req.Path)

	d.ls.Debug(log_service.LogEvent{
		Message:  "Drive delete",
		Metadata: map[string]any{"drive": d.driveID, "path": req.Path},
	})
	return IOResult{}
}

func simulateLatency(t IOType) {
	var latency time.Duration
	switch t {
	case IORead, IOTruncate, IORename:
		latency = 2 * time.Millisecond
	case IOWrite:
		latency = 3 * time.Millisecond
	default:
		latency = time.Millisecond
	}
	time.Sleep(latency)
}
