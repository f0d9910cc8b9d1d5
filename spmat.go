package vexcl

import (
	"sort"

	"github.com/ananori99/vexcl/cl"
	"github.com/ananori99/vexcl/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SpMat is a sparse matrix in CSR format, distributed across the devices
// of a queue set by contiguous row blocks. Each device holds its rows
// split into two CSR halves: the local half references columns the device
// itself owns (x partitioned by the same rule as rows), the remote half
// references columns owned by other devices. Before each product the
// remote column values are gathered into a per-device scratch buffer, so
// the kernel only ever reads device-resident memory.
type SpMat[T dtypes.Supported] struct {
	qs       *QueueSet
	rows     int
	cols     int
	rowParts []Range
	colParts []Range
	dev      []*deviceCSR
	staging  [][]byte // host gather area, one per device
}

type deviceCSR struct {
	nrows   int
	lrow    cl.Buffer
	lcol    cl.Buffer
	lval    cl.Buffer
	rrow    cl.Buffer
	rcol    cl.Buffer
	rval    cl.Buffer
	xrem    cl.Buffer
	fetches []fetchRun
}

// fetchRun is one contiguous slice of x to gather before a product: count
// elements starting at global column begin, owned by device owner, landing
// at element offset dst of the consumer's scratch buffer.
type fetchRun struct {
	owner int
	begin uint64
	count int
	dst   int
}

// NewSpMat uploads a host CSR matrix and partitions it across the queue
// set. rowOffsets must hold rows+1 monotonically non-decreasing offsets
// starting at zero; colIndices and values hold rowOffsets[rows] entries
// each, with every column index below cols.
func NewSpMat[T dtypes.Supported](qs *QueueSet, rows, cols int, rowOffsets, colIndices []uint64, values []T) (*SpMat[T], error) {
	if qs == nil || qs.NumDevices() == 0 {
		return nil, errors.New("vexcl: cannot create a matrix over an empty queue set")
	}
	if rows < 0 || cols < 0 {
		return nil, errors.Errorf("vexcl: invalid matrix dimensions %dx%d", rows, cols)
	}
	if len(rowOffsets) != rows+1 {
		return nil, errors.Errorf("vexcl: expected %d row offsets, got %d", rows+1, len(rowOffsets))
	}
	if rowOffsets[0] != 0 {
		return nil, errors.Errorf("vexcl: row offsets must start at 0, got %d", rowOffsets[0])
	}
	for r := 0; r < rows; r++ {
		if rowOffsets[r+1] < rowOffsets[r] {
			return nil, errors.Errorf("vexcl: row offsets must be non-decreasing, offset %d drops from %d to %d", r+1, rowOffsets[r], rowOffsets[r+1])
		}
	}
	nnz := int(rowOffsets[rows])
	if len(colIndices) != nnz || len(values) != nnz {
		return nil, errors.Errorf("vexcl: row offsets promise %d nonzeros, got %d column indices and %d values", nnz, len(colIndices), len(values))
	}
	for i, c := range colIndices {
		if c >= uint64(cols) {
			return nil, errors.Errorf("vexcl: column index %d at nonzero %d is out of range for %d columns", c, i, cols)
		}
	}

	m := &SpMat[T]{
		qs:       qs,
		rows:     rows,
		cols:     cols,
		rowParts: partition(rows, qs.NumDevices()),
		colParts: partition(cols, qs.NumDevices()),
		dev:      make([]*deviceCSR, qs.NumDevices()),
		staging:  make([][]byte, qs.NumDevices()),
	}
	dt := dtypes.FromGenericsType[T]()
	for d := range m.dev {
		dev, remCount, err := buildDeviceCSR(qs, d, m.rowParts[d], m.colParts, rowOffsets, colIndices, values)
		if err != nil {
			m.Release()
			return nil, errors.WithMessagef(err, "loading matrix rows [%d,%d) onto device %q", m.rowParts[d].Begin, m.rowParts[d].End, qs.Device(d).Name())
		}
		m.dev[d] = dev
		m.staging[d] = make([]byte, remCount*dt.Size())
	}
	return m, nil
}

// buildDeviceCSR splits one row block into local and remote CSR halves,
// remaps their column indices and uploads everything to device d.
func buildDeviceCSR[T dtypes.Supported](qs *QueueSet, d int, rowPart Range, colParts []Range, rowOffsets, colIndices []uint64, values []T) (*deviceCSR, int, error) {
	own := colParts[d]
	nrows := rowPart.Size()

	lrow := make([]uint64, 1, nrows+1)
	rrow := make([]uint64, 1, nrows+1)
	var lcol, rcolGlobal []uint64
	var lval, rval []T
	for r := rowPart.Begin; r < rowPart.End; r++ {
		for i := rowOffsets[r]; i < rowOffsets[r+1]; i++ {
			c := colIndices[i]
			if c >= uint64(own.Begin) && c < uint64(own.End) {
				lcol = append(lcol, c-uint64(own.Begin))
				lval = append(lval, values[i])
			} else {
				rcolGlobal = append(rcolGlobal, c)
				rval = append(rval, values[i])
			}
		}
		lrow = append(lrow, uint64(len(lcol)))
		rrow = append(rrow, uint64(len(rcolGlobal)))
	}

	// Deduplicate and sort the remote columns, then remap the remote half
	// to scratch positions.
	seen := make(map[uint64]struct{}, len(rcolGlobal))
	for _, c := range rcolGlobal {
		seen[c] = struct{}{}
	}
	remote := make([]uint64, 0, len(seen))
	for c := range seen {
		remote = append(remote, c)
	}
	sort.Slice(remote, func(i, j int) bool { return remote[i] < remote[j] })
	scratchPos := make(map[uint64]uint64, len(remote))
	for i, c := range remote {
		scratchPos[c] = uint64(i)
	}
	rcol := make([]uint64, len(rcolGlobal))
	for i, c := range rcolGlobal {
		rcol[i] = scratchPos[c]
	}

	dev := &deviceCSR{nrows: nrows, fetches: planFetches(remote, colParts)}

	dt := dtypes.FromGenericsType[T]()
	ctx := qs.Context(d)
	queue := qs.Queue(d)
	uploads := []struct {
		dst  *cl.Buffer
		data []byte
	}{
		{&dev.lrow, dtypes.ToBytes(lrow)},
		{&dev.lcol, dtypes.ToBytes(lcol)},
		{&dev.lval, dtypes.ToBytes(lval)},
		{&dev.rrow, dtypes.ToBytes(rrow)},
		{&dev.rcol, dtypes.ToBytes(rcol)},
		{&dev.rval, dtypes.ToBytes(rval)},
	}
	for _, u := range uploads {
		buf, err := allocUpload(ctx, queue, u.data, cl.ReadOnly)
		if err != nil {
			dev.release()
			return nil, 0, err
		}
		*u.dst = buf
	}
	var err error
	if dev.xrem, err = ctx.AllocBuffer(maxInt(len(remote), 1)*dt.Size(), cl.ReadWrite); err != nil {
		dev.release()
		return nil, 0, err
	}
	return dev, len(remote), nil
}

// planFetches groups the sorted remote columns into contiguous runs that
// stay within one owner's partition, so each run is a single transfer.
func planFetches(remote []uint64, colParts []Range) []fetchRun {
	var runs []fetchRun
	for i := 0; i < len(remote); {
		owner := partOwner(colParts, int(remote[i]))
		run := fetchRun{owner: owner, begin: remote[i], count: 1, dst: i}
		j := i + 1
		for j < len(remote) && remote[j] == remote[j-1]+1 && int(remote[j]) < colParts[owner].End {
			run.count++
			j++
		}
		runs = append(runs, run)
		i = j
	}
	return runs
}

// allocUpload allocates a device buffer for the host bytes and writes
// them synchronously. Empty arrays get a one-byte placeholder so every
// kernel argument stays a valid buffer.
func allocUpload(ctx cl.Context, queue cl.Queue, data []byte, mode cl.AccessMode) (cl.Buffer, error) {
	buf, err := ctx.AllocBuffer(maxInt(len(data), 1), mode)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return buf, nil
	}
	ev, err := queue.EnqueueWrite(buf, 0, data)
	if err != nil {
		rerr := buf.Release()
		if rerr != nil {
			klog.Errorf("vexcl: releasing buffer after failed upload: %v", rerr)
		}
		return nil, err
	}
	if err := ev.Wait(); err != nil {
		return nil, err
	}
	return buf, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Rows returns the number of matrix rows.
func (m *SpMat[T]) Rows() int { return m.rows }

// Cols returns the number of matrix columns.
func (m *SpMat[T]) Cols() int { return m.cols }

// Mul computes y = A*x into a freshly allocated vector.
func (m *SpMat[T]) Mul(x *Vector[T]) (*Vector[T], error) {
	y, err := New[T](m.qs, m.rows)
	if err != nil {
		return nil, err
	}
	if err := m.MulInto(x, y); err != nil {
		y.Release()
		return nil, err
	}
	return y, nil
}

// MulInto computes y = A*x. x and y must live on the matrix's queue set
// and match its dimensions; x and y may not alias.
func (m *SpMat[T]) MulInto(x, y *Vector[T]) error {
	if x.qs != m.qs || y.qs != m.qs {
		return errors.New("vexcl: matrix and vectors must be built over the same queue set")
	}
	if x.Size() != m.cols {
		return errors.Errorf("vexcl: input size %d does not match %d matrix columns", x.Size(), m.cols)
	}
	if y.Size() != m.rows {
		return errors.Errorf("vexcl: output size %d does not match %d matrix rows", y.Size(), m.rows)
	}
	if err := m.exchange(x); err != nil {
		return err
	}

	dt := dtypes.FromGenericsType[T]()
	sig := spmvSignature(dt)
	name := kernelName("spmv", sig)
	events := make([]cl.Event, 0, m.qs.NumDevices())
	for d, dev := range m.dev {
		if dev.nrows == 0 {
			continue
		}
		kernel, err := m.qs.cacheFor(d).get(sig, func() (string, string) {
			return renderSpMV(dt, name), name
		})
		if err != nil {
			drain(events)
			return err
		}
		args := []cl.Arg{
			cl.ValueArg(uint64(dev.nrows)),
			cl.BufferArg(dev.lrow),
			cl.BufferArg(dev.lcol),
			cl.BufferArg(dev.lval),
			cl.BufferArg(x.Buffer(d)),
			cl.BufferArg(dev.rrow),
			cl.BufferArg(dev.rcol),
			cl.BufferArg(dev.rval),
			cl.BufferArg(dev.xrem),
			cl.BufferArg(y.Buffer(d)),
		}
		ev, err := m.qs.Queue(d).EnqueueKernel(kernel, args, dev.nrows)
		if err != nil {
			drain(events)
			return errors.WithMessagef(err, "launching sparse product on device %q", m.qs.Device(d).Name())
		}
		events = append(events, ev)
	}
	return cl.WaitAll(events...)
}

// exchange gathers every device's remote column values of x into its
// scratch buffer. Owner-side reads are staged through the host; runs
// whose owner shares the consumer's context skip the host and copy on
// the device. The wait between the read and write phases is the
// synchronization point of the whole product: after it, every partial
// result of a previous assignment to x is visible.
func (m *SpMat[T]) exchange(x *Vector[T]) error {
	dt := dtypes.FromGenericsType[T]()
	esz := dt.Size()

	reads := make([]cl.Event, 0, 8)
	for d, dev := range m.dev {
		for _, run := range dev.fetches {
			if m.sameContext(d, run.owner) {
				continue
			}
			srcOff := (int(run.begin) - m.colParts[run.owner].Begin) * esz
			dst := m.staging[d][run.dst*esz : (run.dst+run.count)*esz]
			ev, err := m.qs.Queue(run.owner).EnqueueRead(x.Buffer(run.owner), srcOff, dst)
			if err != nil {
				drain(reads)
				return errors.WithMessagef(err, "gathering columns [%d,%d) from device %q", run.begin, int(run.begin)+run.count, m.qs.Device(run.owner).Name())
			}
			reads = append(reads, ev)
		}
	}
	if err := cl.WaitAll(reads...); err != nil {
		return err
	}

	writes := make([]cl.Event, 0, 8)
	for d, dev := range m.dev {
		for _, run := range dev.fetches {
			srcOff := (int(run.begin) - m.colParts[run.owner].Begin) * esz
			var ev cl.Event
			var err error
			if m.sameContext(d, run.owner) {
				ev, err = m.qs.Queue(d).EnqueueCopy(x.Buffer(run.owner), srcOff, dev.xrem, run.dst*esz, run.count*esz)
			} else {
				src := m.staging[d][run.dst*esz : (run.dst+run.count)*esz]
				ev, err = m.qs.Queue(d).EnqueueWrite(dev.xrem, run.dst*esz, src)
			}
			if err != nil {
				drain(writes)
				return errors.WithMessagef(err, "scattering columns [%d,%d) to device %q", run.begin, int(run.begin)+run.count, m.qs.Device(d).Name())
			}
			writes = append(writes, ev)
		}
	}
	return cl.WaitAll(writes...)
}

func (m *SpMat[T]) sameContext(a, b int) bool {
	return m.qs.Context(a) == m.qs.Context(b)
}

// Release frees all device buffers of the matrix.
func (m *SpMat[T]) Release() {
	for _, dev := range m.dev {
		if dev != nil {
			dev.release()
		}
	}
	m.dev = nil
}

func (dev *deviceCSR) release() {
	for _, buf := range []cl.Buffer{dev.lrow, dev.lcol, dev.lval, dev.rrow, dev.rcol, dev.rval, dev.xrem} {
		if buf == nil {
			continue
		}
		if err := buf.Release(); err != nil {
			klog.Errorf("vexcl: releasing matrix buffer: %v", err)
		}
	}
}
