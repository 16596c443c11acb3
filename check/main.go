package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"github.com/zeebo/errs"
	"github.com/zeebo/mon"
	"github.com/zeebo/mon/monhandler"
	"github.com/zeebo/pcg"
	"go.uber.org/zap"

	"github.com/securesecrets/lbcore"
	"github.com/securesecrets/lbcore/sqlstore"
)

var (
	ops     = flag.Int("ops", 200000, "number of tree operations")
	ids     = flag.Int("ids", 1<<12, "width of the id window tree operations draw from")
	swaps   = flag.Int("swaps", 100000, "number of oracle swaps")
	length  = flag.Int("length", 1024, "oracle length")
	seed    = flag.Int("seed", 0, "number of random values to skip before starting")
	store   = flag.String("store", "mem", "oracle store: mem, file or sqlite")
	dir     = flag.String("dir", "data", "directory for the file and sqlite stores")
	listen  = flag.String("listen", "", "address to serve mon stats on")
	jsonOut = flag.String("json", "", "path to write a json report to")

	rng pcg.T
	log *zap.SugaredLogger
)

func intn(n int) int { return int(rng.Uint32n(uint32(n))) }

func stats() {
	defer fmt.Println()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	mon.Times(func(name string, state *mon.State) bool {
		sum, avg := state.Average()
		fmt.Fprintf(tw, "%s\t%v\t%v\t%v\n",
			name, state.Total(), time.Duration(sum), time.Duration(avg))
		return true
	})
}

// report is written as json when -json is set.
type report struct {
	Store      string `json:"store"`
	TreeOps    int    `json:"tree_ops"`
	TreeLen    int    `json:"tree_len"`
	TreeDigest string `json:"tree_digest"`

	Swaps        int    `json:"swaps"`
	OracleActive uint16 `json:"oracle_active"`
	OracleSize   uint16 `json:"oracle_size"`
	OracleDigest string `json:"oracle_digest"`
	Lookups      int    `json:"lookups"`

	Elapsed string `json:"elapsed"`
}

func main() {
	flag.Parse()

	zl, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	log = zl.Sugar()

	if *listen != "" {
		go func() {
			log.Infow("serving stats", "addr", *listen)
			if err := http.ListenAndServe(*listen, monhandler.Handler{}); err != nil {
				log.Errorw("stats server", "error", err)
			}
		}()
	}

	for i := 0; i < *seed; i++ {
		rng.Uint64()
	}

	if err := run(); err != nil {
		stats()
		log.Fatalf("%+v", err)
	}
	stats()
}

func run() (err error) {
	start := time.Now()
	rep := report{Store: *store}

	tr, err := checkTree(&rep)
	if err != nil {
		return errs.Wrap(err)
	}

	if err := checkOracle(&rep, tr); err != nil {
		return errs.Wrap(err)
	}

	rep.Elapsed = time.Since(start).String()
	log.Infow("done", "elapsed", rep.Elapsed)

	if *jsonOut == "" {
		return nil
	}
	data, err := sonnet.Marshal(rep)
	if err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(os.WriteFile(*jsonOut, data, 0644))
}

//
// tree
//

// refSet is the sorted set of ids the tree is checked against.
type refSet []uint32

func (r refSet) search(id uint32) int {
	return sort.Search(len(r), func(i int) bool { return r[i] >= id })
}

func (r *refSet) add(id uint32) bool {
	i := r.search(id)
	if i < len(*r) && (*r)[i] == id {
		return false
	}
	*r = append(*r, 0)
	copy((*r)[i+1:], (*r)[i:])
	(*r)[i] = id
	return true
}

func (r *refSet) remove(id uint32) bool {
	i := r.search(id)
	if i == len(*r) || (*r)[i] != id {
		return false
	}
	*r = append((*r)[:i], (*r)[i+1:]...)
	return true
}

func (r refSet) right(id uint32) uint32 {
	if i := r.search(id); i > 0 {
		return r[i-1]
	}
	return lbcore.NoRight
}

func (r refSet) left(id uint32) uint32 {
	i := r.search(id + 1)
	if id < lbcore.MaxBinID && i < len(r) {
		return r[i]
	}
	return lbcore.NoLeft
}

// randomID picks ids from a few windows so that searches cross words and
// levels, including the ends of the id space.
func randomID(bases []uint32) uint32 {
	id := bases[intn(len(bases))] + uint32(intn(*ids))
	if id > lbcore.MaxBinID {
		id = lbcore.MaxBinID
	}
	return id
}

func checkTree(rep *report) (_ *lbcore.Tree, err error) {
	defer mon.Start().Stop(&err)

	bases := []uint32{
		0,
		uint32(intn(lbcore.MaxBinID + 1)),
		uint32(intn(lbcore.MaxBinID + 1)),
		lbcore.MaxBinID + 1 - uint32(*ids),
	}

	tr, ref := lbcore.NewTree(), refSet(nil)
	for i := 0; i < *ops; i++ {
		if i > 0 && i%(*ops/10+1) == 0 {
			log.Infow("tree progress", "ops", i, "len", tr.Len())
		}

		id := randomID(bases)
		switch intn(5) {
		case 0, 1:
			if got, want := tr.Add(id), ref.add(id); got != want {
				return nil, errs.New("add %d: got %v want %v", id, got, want)
			}
		case 2:
			if got, want := tr.Remove(id), ref.remove(id); got != want {
				return nil, errs.New("remove %d: got %v want %v", id, got, want)
			}
		case 3:
			if got, want := tr.FindFirstRight(id), ref.right(id); got != want {
				return nil, errs.New("find right of %d: got %d want %d", id, got, want)
			}
		case 4:
			if got, want := tr.FindFirstLeft(id), ref.left(id); got != want {
				return nil, errs.New("find left of %d: got %d want %d", id, got, want)
			}
		}

		if i%1024 == 0 {
			if err := tr.Verify(); err != nil {
				return nil, errs.Wrap(err)
			}
		}
	}

	if err := tr.Verify(); err != nil {
		return nil, errs.Wrap(err)
	}
	if tr.Len() != len(ref) {
		return nil, errs.New("tree holds %d ids, reference %d", tr.Len(), len(ref))
	}

	digest, err := tr.Digest()
	if err != nil {
		return nil, errs.Wrap(err)
	}

	// the encoded tree must restore to the same state.
	data, err := tr.MarshalCBOR()
	if err != nil {
		return nil, errs.Wrap(err)
	}
	restored := lbcore.NewTree()
	if err := restored.UnmarshalCBOR(data); err != nil {
		return nil, errs.Wrap(err)
	}
	if got, err := restored.Digest(); err != nil {
		return nil, errs.Wrap(err)
	} else if got != digest {
		return nil, errs.New("restored tree digest %x, want %x", got, digest)
	}

	rep.TreeOps = *ops
	rep.TreeLen = tr.Len()
	rep.TreeDigest = fmt.Sprintf("%x", digest)
	log.Infow("tree checked", "len", tr.Len(), "digest", rep.TreeDigest, "bytes", len(data))
	return tr, nil
}

//
// oracle
//

// openStore returns the store selected by -store and a func releasing it.
// The sqlite store also saves and reloads tr.
func openStore(tr *lbcore.Tree) (_ lbcore.Store, closer func() error, err error) {
	switch *store {
	case "mem":
		return lbcore.NewMemStore(), func() error { return nil }, nil

	case "file":
		if err := os.MkdirAll(*dir, 0755); err != nil {
			return nil, nil, errs.Wrap(err)
		}
		fh, err := os.Create(filepath.Join(*dir, "oracle"))
		if err != nil {
			return nil, nil, errs.Wrap(err)
		}
		fs, err := lbcore.OpenFileStore(fh, uint16(*length))
		if err != nil {
			return nil, nil, errs.Combine(err, fh.Close())
		}
		return fs, func() error { return errs.Combine(fs.Close(), fh.Close()) }, nil

	case "sqlite":
		if err := os.MkdirAll(*dir, 0755); err != nil {
			return nil, nil, errs.Wrap(err)
		}
		path := filepath.Join(*dir, "lb.db")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, nil, errs.Wrap(err)
		}
		db, err := sqlstore.Open(path)
		if err != nil {
			return nil, nil, errs.Wrap(err)
		}

		if err := db.SaveTree("check", tr); err != nil {
			return nil, nil, errs.Combine(err, db.Close())
		}
		loaded, err := db.LoadTree("check")
		if err != nil {
			return nil, nil, errs.Combine(err, db.Close())
		}
		if loaded.Len() != tr.Len() {
			return nil, nil, errs.Combine(
				errs.New("sqlite tree holds %d ids, want %d", loaded.Len(), tr.Len()),
				db.Close())
		}

		return db.Oracle("check"), db.Close, nil

	default:
		return nil, nil, errs.New("unknown store %q", *store)
	}
}

func checkOracle(rep *report, tr *lbcore.Tree) (err error) {
	defer mon.Start().Stop(&err)

	if *length < 1 || *length > lbcore.DefaultOracleLength {
		return errs.New("length %d outside [1, %d]", *length, lbcore.DefaultOracleLength)
	}
	opts := lbcore.Options{Length: uint16(*length)}

	st, closeStore, err := openStore(tr)
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, closeStore()) }()

	o, err := lbcore.NewOracle(st, opts)
	if err != nil {
		return errs.Wrap(err)
	}
	ref, err := lbcore.NewOracle(lbcore.NewMemStore(), opts)
	if err != nil {
		return errs.Wrap(err)
	}

	// the active id walks between occupied bins of the tree.
	active := uint32(1 << 23)
	// a fixed base keeps the digest reproducible for a given -seed.
	now := uint64(1_600_000_000) + uint64(intn(1<<20))

	for i := 0; i < *swaps; i++ {
		if i > 0 && i%(*swaps/10+1) == 0 {
			log.Infow("oracle progress", "swaps", i, "active", o.ActiveID())
		}

		delta := uint64(intn(180))
		now += delta

		sw := lbcore.Swap{
			Now:                   now,
			DeltaTime:             delta,
			ActiveID:              active,
			VolatilityAccumulator: uint32(intn(1 << 20)),
		}
		if intn(4) != 0 {
			sw.Volume = lbcore.PackUint64s(rng.Uint64()>>8, rng.Uint64()>>8)
			sw.Fee = lbcore.PackUint64s(1+uint64(intn(1<<16)), uint64(intn(1<<16)))

			next := tr.FindFirstLeft(active)
			if intn(2) == 0 {
				next = tr.FindFirstRight(active)
			}
			if next != lbcore.NoLeft && next != lbcore.NoRight {
				sw.BinCrossed = uint32(absDiff(next, active))
				active = next
			}
		}

		prev := o.Cursor()
		id, err := o.RecordSwap(sw)
		if err != nil {
			return errs.Wrap(err)
		}
		refID, err := ref.RecordSwap(sw)
		if err != nil {
			return errs.Wrap(err)
		}
		if id != refID {
			return errs.New("swap %d: store at id %d, reference at %d", i, id, refID)
		}
		if id != prev.Active && id != uint16(uint32(prev.Active)%uint32(opts.Length)+1) {
			return errs.New("swap %d: active id jumped from %d to %d", i, prev.Active, id)
		}

		s, err := o.SampleAt(id)
		if err != nil {
			return errs.Wrap(err)
		}
		if s.LastUpdate() != now {
			return errs.New("swap %d: last update %d, want %d", i, s.LastUpdate(), now)
		}
		if s.Lifetime() > lbcore.DefaultMaxSampleLifetime {
			return errs.New("swap %d: lifetime %d", i, s.Lifetime())
		}
	}

	lookups, err := checkLookups(o)
	if err != nil {
		return errs.Wrap(err)
	}

	digest, err := o.Digest()
	if err != nil {
		return errs.Wrap(err)
	}
	refDigest, err := ref.Digest()
	if err != nil {
		return errs.Wrap(err)
	}
	if digest != refDigest {
		return errs.New("oracle digest %x, reference %x", digest, refDigest)
	}

	c := o.Cursor()
	rep.Swaps = *swaps
	rep.OracleActive = c.Active
	rep.OracleSize = c.Size
	rep.OracleDigest = fmt.Sprintf("%x", digest)
	rep.Lookups = lookups
	log.Infow("oracle checked", "active", c.Active, "size", c.Size, "digest", rep.OracleDigest)
	return nil
}

// checkLookups pages through every sample and looks up random times within
// the oracle's range, checking that the cumulative id never decreases when
// it cannot have wrapped.
func checkLookups(o *lbcore.Oracle) (n int, err error) {
	defer mon.Start().Stop(&err)

	p, err := o.Params()
	if err != nil {
		return 0, errs.Wrap(err)
	}
	if p.ActiveSize == 0 {
		return 0, nil
	}

	var last uint64
	count := 0
	for start := uint16(0); ; {
		samples, next, err := o.SamplesAfter(start, 0)
		if err != nil {
			return 0, errs.Wrap(err)
		}
		for _, s := range samples {
			if s.LastUpdate() < last {
				return 0, errs.New("sample %d updated at %d before %d", s.ID, s.LastUpdate(), last)
			}
			last = s.LastUpdate()
		}
		count += len(samples)
		if next == 0 {
			break
		}
		start = next
	}
	if count != int(p.ActiveSize) {
		return 0, errs.New("paged %d samples, oracle has %d", count, p.ActiveSize)
	}

	span := p.LastUpdated - p.FirstTimestamp + 1
	for i := 0; i < 1000; i++ {
		ts := p.FirstTimestamp + rng.Uint64()%span
		obs, err := o.LookupAt(ts)
		if err != nil {
			return 0, errs.Wrap(err)
		}
		if obs.Timestamp != ts {
			return 0, errs.New("lookup at %d observed %d", ts, obs.Timestamp)
		}
		n++
	}

	if _, err := o.LookupAt(p.FirstTimestamp - 1); p.FirstTimestamp > 0 && !lbcore.LookupTooOld.Has(err) {
		return 0, errs.New("lookup before the oldest sample: %v", err)
	}
	return n, nil
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
