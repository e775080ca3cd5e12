package tradb

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/aewave/aewave/internal/database"
	aeerrors "github.com/aewave/aewave/internal/errors"
	"github.com/aewave/aewave/pkg/config"
	"github.com/aewave/aewave/pkg/types"
)

// Parameter rows of the test files. ID 1 has an ADC step of 0.5 mV.
var testParams = []database.Row{
	{"ID": int64(1), "SetupID": int64(1), "Chan": int64(1), "ADC_µV": 1.5, "TR_mV": 0.5},
	{"ID": int64(2), "SetupID": int64(1), "Chan": int64(2), "ADC_µV": 3.0, "TR_mV": 1.0},
}

// newTestFile creates an empty tradb with parameters and returns its path.
func newTestFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tradb")
	if err := Create(path); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	db, err := database.Open(path, types.ModeReadWrite, database.Options{TablePrefix: TablePrefix})
	if err != nil {
		t.Fatalf("failed to open new file: %v", err)
	}
	for _, row := range testParams {
		if _, err := db.Insert("tr_params", row); err != nil {
			t.Fatalf("failed to insert parameters: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close new file: %v", err)
	}
	return path
}

func openWriter(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()
	s, err := Open(path, types.ModeReadWrite, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// block returns n samples in volts that are exact multiples of the 0.5 mV step.
func block(n, seed int) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32((seed*31+i*7)%200-100) * 0.0005
	}
	return data
}

func testRecord(trai int64, channel int, time float64) Record {
	return Record{
		Time:       time,
		Channel:    channel,
		ParamID:    1,
		Pretrigger: 3,
		Threshold:  0.0015,
		SampleRate: 100,
		Samples:    10,
		Data:       block(10, int(trai)),
		TRAI:       trai,
	}
}

func mustWrite(t *testing.T, s *Store, recs ...Record) {
	t.Helper()
	for _, rec := range recs {
		if _, err := s.Write(rec); err != nil {
			t.Fatalf("Write(TRAI %d) failed: %v", rec.TRAI, err)
		}
	}
}

func collect(t *testing.T, it *Iterator) []Record {
	t.Helper()
	defer it.Close()
	var recs []Record
	for it.Next() {
		recs = append(recs, it.Record())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	return recs
}

func ptr(v float64) *float64 { return &v }

func TestCreate(t *testing.T) {
	path := newTestFile(t)

	if err := Create(path); !errors.Is(err, types.ErrFileExists) {
		t.Fatalf("Create() on existing file: got %v, want FILE_EXISTS", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader() failed: %v", err)
	}
	defer r.Close()

	if n, err := r.Rows(); err != nil || n != 0 {
		t.Errorf("Rows() = %d, %v; want 0", n, err)
	}
	if r.TimeBase() != 1e7 {
		t.Errorf("TimeBase() = %g, want 1e7", r.TimeBase())
	}
	info, err := r.GlobalInfo()
	if err != nil {
		t.Fatalf("GlobalInfo() failed: %v", err)
	}
	if info["WriterID"] != types.StringValue("aewave") {
		t.Errorf("WriterID = %#v", info["WriterID"])
	}
	fields, err := r.FieldInfo()
	if err != nil {
		t.Fatalf("FieldInfo() failed: %v", err)
	}
	if fields["Time"]["Unit"] != "[s]" {
		t.Errorf("Time unit = %v, want [s]", fields["Time"]["Unit"])
	}
}

func TestOpen_ExtensionCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	if err := Create(path); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if _, err := Open(path, types.ModeReadOnly); !errors.Is(err, types.ErrExtensionMismatch) {
		t.Fatalf("got %v, want EXTENSION_MISMATCH", err)
	}
	s, err := Open(path, types.ModeReadOnly, WithoutExtensionCheck())
	if err != nil {
		t.Fatalf("Open() without extension check failed: %v", err)
	}
	s.Close()
}

func TestWrite_RoundTrip(t *testing.T) {
	s := openWriter(t, newTestFile(t))

	in := testRecord(7, 2, 1.5)
	in.DataFormat = types.DataFormatFLAC // ignored on write
	setID, err := s.Write(in)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	recs := collect(t, s.Iterate(Query{TRAI: []int64{7}}))
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	out := recs[0]

	if out.SetID != setID {
		t.Errorf("SetID = %d, want %d", out.SetID, setID)
	}
	if out.Time != in.Time || out.Channel != in.Channel || out.ParamID != in.ParamID ||
		out.Pretrigger != in.Pretrigger || out.SampleRate != in.SampleRate ||
		out.Samples != in.Samples || out.TRAI != in.TRAI {
		t.Errorf("metadata mismatch:\n got  %+v\n want %+v", out, in)
	}
	if math.Abs(out.Threshold-in.Threshold) > 1e-12 {
		t.Errorf("Threshold = %g, want %g", out.Threshold, in.Threshold)
	}
	if out.DataFormat != types.DataFormatRaw {
		t.Errorf("DataFormat = %s, want raw", out.DataFormat)
	}
	if out.Data != nil {
		t.Error("iteration must not decode samples")
	}

	if err := s.DecodeData(&out); err != nil {
		t.Fatalf("DecodeData() failed: %v", err)
	}
	for i := range in.Data {
		if math.Abs(float64(out.Data[i]-in.Data[i])) > 1e-6 {
			t.Fatalf("sample %d = %v, want %v", i, out.Data[i], in.Data[i])
		}
	}

	wave, err := s.ReadWave(7)
	if err != nil {
		t.Fatalf("ReadWave() failed: %v", err)
	}
	if wave.SampleRate != 100 || len(wave.Samples) != 10 || wave.Time != nil {
		t.Errorf("ReadWave() = %+v", wave)
	}
}

func TestDecodeData_CorruptBlobDetails(t *testing.T) {
	s := openWriter(t, newTestFile(t))
	setID, err := s.Write(testRecord(4, 1, 0))
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if err := s.db.Update("tr_data", database.Row{"SetID": setID, "Data": []byte{1, 2, 3}}, "SetID"); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	_, err = s.ReadWave(4)
	if !errors.Is(err, types.ErrCorruptBlob) {
		t.Fatalf("got %v, want CORRUPT_BLOB", err)
	}
	var se *aeerrors.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("got %T, want *StoreError", err)
	}
	// Codec details survive next to the record's.
	if se.Details["bytes"] != 3 || se.Details["set_id"] != setID || se.Details["trai"] != int64(4) {
		t.Errorf("details = %v", se.Details)
	}
}

func TestWrite_Compression(t *testing.T) {
	s := openWriter(t, newTestFile(t), WithCompression())
	if s.DataFormat() != types.DataFormatFLAC {
		t.Fatalf("DataFormat() = %s, want flac", s.DataFormat())
	}

	in := testRecord(1, 1, 0)
	in.Data = block(5000, 3)
	in.Samples = 0
	mustWrite(t, s, in)

	recs := collect(t, s.Iterate(Query{}))
	if len(recs) != 1 || recs[0].DataFormat != types.DataFormatFLAC || recs[0].Samples != 5000 {
		t.Fatalf("got %+v", recs)
	}
	wave, err := s.ReadWave(1)
	if err != nil {
		t.Fatalf("ReadWave() failed: %v", err)
	}
	for i := range in.Data {
		if math.Abs(float64(wave.Samples[i]-in.Data[i])) > 1e-6 {
			t.Fatalf("sample %d = %v, want %v", i, wave.Samples[i], in.Data[i])
		}
	}
}

func TestWrite_DuplicateTRAIAccepted(t *testing.T) {
	s := openWriter(t, newTestFile(t))

	first := testRecord(5, 1, 0)
	second := testRecord(5, 2, 1)
	second.Data = block(10, 99)
	mustWrite(t, s, first, second)

	table, err := s.ReadAll(Query{})
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	dups := table.Lookup(5)
	if len(dups) != 2 {
		t.Fatalf("Lookup(5) returned %d records, want 2", len(dups))
	}
	if dups[0].Channel != 1 || dups[1].Channel != 2 {
		t.Errorf("duplicates out of write order: %+v", dups)
	}

	wave, err := s.ReadWave(5)
	if err != nil {
		t.Fatalf("ReadWave() failed: %v", err)
	}
	if math.Abs(float64(wave.Samples[0]-first.Data[0])) > 1e-6 {
		t.Errorf("ReadWave() should return the first written record")
	}
}

func TestWrite_ZeroTRAIStoredAsNull(t *testing.T) {
	s := openWriter(t, newTestFile(t))
	mustWrite(t, s, testRecord(0, 1, 0))

	n, err := s.db.Count("SELECT SetID FROM tr_data WHERE TRAI IS NULL AND Status = 32768")
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d rows with NULL TRAI, want 1", n)
	}
}

func TestWrite_UnknownParameter(t *testing.T) {
	s := openWriter(t, newTestFile(t))

	rec := testRecord(1, 1, 0)
	rec.ParamID = 42
	if _, err := s.Write(rec); !errors.Is(err, types.ErrParameterNotFound) {
		t.Fatalf("got %v, want PARAMETER_NOT_FOUND", err)
	}
	if n, _ := s.Rows(); n != 0 {
		t.Errorf("Rows() = %d after failed write, want 0", n)
	}
}

func TestWriteParameter(t *testing.T) {
	s := openWriter(t, newTestFile(t))

	rec := testRecord(1, 1, 0)
	rec.ParamID = 3
	if _, err := s.Write(rec); !errors.Is(err, types.ErrParameterNotFound) {
		t.Fatalf("got %v, want PARAMETER_NOT_FOUND", err)
	}

	if err := s.WriteParameter(types.Parameter{ID: 3, Values: map[string]any{"ADC_µV": 3.0, "TR_mV": 0.25}}); err != nil {
		t.Fatalf("WriteParameter() failed: %v", err)
	}
	if _, err := s.Write(rec); err != nil {
		t.Fatalf("Write() after WriteParameter failed: %v", err)
	}
	p, err := s.Parameter(3)
	if err != nil {
		t.Fatalf("Parameter() failed: %v", err)
	}
	if v, _ := p.Float("TR_mV"); v != 0.25 {
		t.Errorf("TR_mV = %v, want 0.25", v)
	}

	// Replacing a row is visible to the next lookup.
	if err := s.WriteParameter(types.Parameter{ID: 3, Values: map[string]any{"ADC_µV": 3.0, "TR_mV": 0.5}}); err != nil {
		t.Fatalf("WriteParameter() failed: %v", err)
	}
	p, _ = s.Parameter(3)
	if v, _ := p.Float("TR_mV"); v != 0.5 {
		t.Errorf("TR_mV after replace = %v, want 0.5", v)
	}
}

func TestWriteBatch(t *testing.T) {
	s := openWriter(t, newTestFile(t))

	ids, err := s.WriteBatch([]Record{testRecord(1, 1, 0), testRecord(2, 1, 0.1), testRecord(3, 2, 0.2)})
	if err != nil {
		t.Fatalf("WriteBatch() failed: %v", err)
	}
	if len(ids) != 3 || ids[0] >= ids[1] || ids[1] >= ids[2] {
		t.Errorf("got SetIDs %v", ids)
	}

	bad := testRecord(4, 1, 0.3)
	bad.ParamID = 42
	if _, err := s.WriteBatch([]Record{testRecord(5, 1, 0.4), bad}); !errors.Is(err, types.ErrParameterNotFound) {
		t.Fatalf("got %v, want PARAMETER_NOT_FOUND", err)
	}
	if n, _ := s.Rows(); n != 3 {
		t.Errorf("Rows() = %d, want 3 (failed batch must not be stored)", n)
	}
}

func TestReadOnly_RejectsWrites(t *testing.T) {
	path := newTestFile(t)
	w := openWriter(t, path)
	mustWrite(t, w, testRecord(1, 1, 0))
	if err := w.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader() failed: %v", err)
	}
	defer r.Close()
	if _, ok := r.(ReadWriter); !ok {
		t.Fatal("the concrete store implements ReadWriter")
	}
	s := r.(ReadWriter)

	_, errWrite := s.Write(testRecord(2, 1, 1))
	_, errBatch := s.WriteBatch([]Record{testRecord(3, 1, 2)})
	errs := map[string]error{
		"Write":          errWrite,
		"WriteBatch":     errBatch,
		"WriteFieldInfo": s.WriteFieldInfo("Time", types.FieldInfo{"Unit": "[ms]"}),
		"AddColumns":     s.AddColumns([]string{"RMS"}, "REAL"),
		"WriteParameter": s.WriteParameter(types.Parameter{ID: 9, Values: map[string]any{"TR_mV": 1.0}}),
	}
	for op, err := range errs {
		if !errors.Is(err, types.ErrReadOnlyViolation) {
			t.Errorf("%s: got %v, want READ_ONLY_VIOLATION", op, err)
		}
	}
	if n, _ := r.Rows(); n != 1 {
		t.Errorf("Rows() = %d, want 1", n)
	}
	if cols, _ := r.Columns(); len(cols) != 12 {
		t.Errorf("Columns() = %v, schema must be unchanged", cols)
	}
}

func TestReadWaveTime(t *testing.T) {
	s := openWriter(t, newTestFile(t))
	mustWrite(t, s, testRecord(9, 1, 0))

	wave, err := s.ReadWaveTime(9)
	if err != nil {
		t.Fatalf("ReadWaveTime() failed: %v", err)
	}
	if len(wave.Time) != 10 || len(wave.Samples) != 10 {
		t.Fatalf("got %d times and %d samples, want 10", len(wave.Time), len(wave.Samples))
	}
	if wave.Time[0] != float32(-3.0/100) {
		t.Errorf("Time[0] = %v, want %v", wave.Time[0], float32(-3.0/100))
	}
	if wave.Time[9] != float32(6.0/100) {
		t.Errorf("Time[9] = %v, want %v", wave.Time[9], float32(6.0/100))
	}
}

func TestReadWave_UnknownTRAI(t *testing.T) {
	s := openWriter(t, newTestFile(t))
	if _, err := s.ReadWave(404); !errors.Is(err, types.ErrTRAINotFound) {
		t.Fatalf("got %v, want TRAI_NOT_FOUND", err)
	}
}

func TestChannels(t *testing.T) {
	s := openWriter(t, newTestFile(t))
	mustWrite(t, s, testRecord(1, 3, 0), testRecord(2, 1, 1), testRecord(3, 4, 2), testRecord(4, 2, 3))

	channels, err := s.Channels()
	if err != nil {
		t.Fatalf("Channels() failed: %v", err)
	}
	want := []int{1, 2, 3, 4}
	if len(channels) != len(want) {
		t.Fatalf("Channels() = %v, want %v", channels, want)
	}
	for i := range want {
		if channels[i] != want[i] {
			t.Errorf("Channels() = %v, want %v", channels, want)
		}
	}
}

func TestIterate_Queries(t *testing.T) {
	s := openWriter(t, newTestFile(t))
	// TRAI is written out of order; Time increases with SetID.
	mustWrite(t, s,
		testRecord(3, 1, 0),
		testRecord(1, 2, 1),
		testRecord(2, 1, 2),
		testRecord(5, 2, 3),
		testRecord(4, 1, 4),
	)

	trais := func(recs []Record) []int64 {
		out := make([]int64, len(recs))
		for i, r := range recs {
			out[i] = r.TRAI
		}
		return out
	}
	equal := func(a, b []int64) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	tests := []struct {
		name  string
		query Query
		want  []int64
	}{
		{"all ordered by TRAI", Query{}, []int64{1, 2, 3, 4, 5}},
		{"channel", Query{Channels: []int{2}}, []int64{1, 5}},
		{"TRAI list", Query{TRAI: []int64{4, 2}}, []int64{2, 4}},
		{"time range", Query{TimeStart: ptr(1), TimeStop: ptr(3)}, []int64{1, 2}},
		{"time start between records", Query{TimeStart: ptr(2.5)}, []int64{4, 5}},
		{"time start after end", Query{TimeStart: ptr(10)}, nil},
		{"time stop after end", Query{TimeStop: ptr(100)}, []int64{1, 2, 3, 4, 5}},
		{"filter", Query{Filter: "Chan = 1 AND TRAI > 2"}, []int64{3, 4}},
		{"combined", Query{Channels: []int{1}, TimeStop: ptr(4)}, []int64{2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := s.Iterate(tt.query)
			n := it.Len()
			got := trais(collect(t, it))
			if !equal(got, tt.want) {
				t.Errorf("got TRAIs %v, want %v", got, tt.want)
			}
			if n != int64(len(tt.want)) {
				t.Errorf("Len() = %d, want %d", n, len(tt.want))
			}
		})
	}

	// Re-invoking starts a new pass.
	if got := trais(collect(t, s.Iterate(Query{}))); !equal(got, []int64{1, 2, 3, 4, 5}) {
		t.Errorf("second pass got %v", got)
	}

	top := s.TopPredicates(1)
	if len(top) != 1 || top[0].Column != "SetID" {
		t.Errorf("TopPredicates(1) = %+v, want SetID first", top)
	}
}

func TestIterate_All(t *testing.T) {
	s := openWriter(t, newTestFile(t))
	mustWrite(t, s, testRecord(1, 1, 0), testRecord(2, 1, 1), testRecord(3, 1, 2))

	var seen []int64
	for rec, err := range s.Iterate(Query{}).All() {
		if err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		seen = append(seen, rec.TRAI)
		if len(seen) == 2 {
			break
		}
	}
	if len(seen) != 2 {
		t.Fatalf("got %v", seen)
	}
	// The session stays usable after an early break.
	if _, err := s.Rows(); err != nil {
		t.Fatalf("Rows() after early break failed: %v", err)
	}
}

func TestIterate_BadFilter(t *testing.T) {
	s := openWriter(t, newTestFile(t))
	it := s.Iterate(Query{Filter: "NoSuchColumn > 1"})
	defer it.Close()
	if it.Next() {
		t.Fatal("Next() should fail")
	}
	if it.Err() == nil {
		t.Fatal("expected an error for an invalid filter")
	}
}

func TestIterate_RecordsWithoutTRAILast(t *testing.T) {
	s := openWriter(t, newTestFile(t))
	mustWrite(t, s, testRecord(0, 1, 0), testRecord(7, 1, 1), testRecord(0, 1, 2), testRecord(2, 1, 3))

	recs := collect(t, s.Iterate(Query{}))
	var got []int64
	for _, r := range recs {
		got = append(got, r.SetID)
	}
	want := []int64{4, 2, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("got SetIDs %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got SetIDs %v, want %v", got, want)
		}
	}
}

func TestIterate_Paging(t *testing.T) {
	s := openWriter(t, newTestFile(t))
	n := pageSize*2 + 7
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = testRecord(int64(i+1), 1, float64(i)*0.1)
	}
	if _, err := s.WriteBatch(recs); err != nil {
		t.Fatalf("WriteBatch() failed: %v", err)
	}

	it := s.Iterate(Query{})
	defer it.Close()
	if it.Len() != int64(n) {
		t.Fatalf("Len() = %d, want %d", it.Len(), n)
	}
	var prev int64
	seen := 0
	for it.Next() {
		rec := it.Record()
		if rec.TRAI <= prev {
			t.Fatalf("TRAI %d after %d", rec.TRAI, prev)
		}
		prev = rec.TRAI
		seen++

		// Other store calls work while the pass is open.
		if seen%pageSize == 1 {
			if _, err := s.ReadWave(rec.TRAI); err != nil {
				t.Fatalf("ReadWave() inside the loop failed: %v", err)
			}
		}
		if seen == 1 {
			mustWrite(t, s, testRecord(int64(n+100), 2, float64(n)))
		}
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	// The record written during the pass sorts after the cursor.
	if seen != n+1 || prev != int64(n+100) {
		t.Errorf("saw %d records ending at TRAI %d, want %d ending at %d", seen, prev, n+1, n+100)
	}
}

func TestClose_WithOpenIterator(t *testing.T) {
	path := newTestFile(t)
	s, err := Open(path, types.ModeReadWrite)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	mustWrite(t, s, testRecord(1, 1, 0), testRecord(2, 1, 1))

	it := s.Iterate(Query{})
	if !it.Next() {
		t.Fatalf("Next() failed: %v", it.Err())
	}

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close() failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Close() blocked while an iterator was open")
	}

	if it.Next() {
		t.Error("Next() after Close must stop")
	}
	if !errors.Is(it.Err(), types.ErrNotConnected) {
		t.Errorf("Err() = %v, want NOT_CONNECTED", it.Err())
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader() failed: %v", err)
	}
	defer r.Close()
	info, err := r.GlobalInfo()
	if err != nil {
		t.Fatalf("GlobalInfo() failed: %v", err)
	}
	if info["ValidSets"] != types.IntValue(2) {
		t.Errorf("ValidSets = %#v, want 2", info["ValidSets"])
	}
}

func TestClose_UpdatesGlobalInfo(t *testing.T) {
	path := newTestFile(t)
	w, err := Open(path, types.ModeReadWrite)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	mustWrite(t, w, testRecord(11, 1, 0), testRecord(17, 1, 1), testRecord(0, 1, 2))
	if err := w.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}
	if _, err := w.Rows(); !errors.Is(err, types.ErrNotConnected) {
		t.Errorf("Rows() after Close: got %v, want NOT_CONNECTED", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader() failed: %v", err)
	}
	defer r.Close()
	info, err := r.GlobalInfo()
	if err != nil {
		t.Fatalf("GlobalInfo() failed: %v", err)
	}
	if info["ValidSets"] != types.IntValue(3) || info["TRAI"] != types.IntValue(17) {
		t.Errorf("ValidSets=%#v TRAI=%#v, want 3 and 17", info["ValidSets"], info["TRAI"])
	}
}

func TestOpenConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Mode = types.ModeReadWrite
	cfg.DataDir = dir
	cfg.Tradb.Path = "new.tradb"
	cfg.Tradb.CreateIfMissing = true
	cfg.Tradb.Compression = true
	cfg.Resolve()

	s, err := OpenConfig(cfg)
	if err != nil {
		t.Fatalf("OpenConfig() failed: %v", err)
	}
	if s.DataFormat() != types.DataFormatFLAC || s.Mode() != types.ModeReadWrite {
		t.Errorf("store options not applied: format=%s mode=%s", s.DataFormat(), s.Mode())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	ro := config.DefaultConfig()
	ro.Tradb.Path = filepath.Join(dir, "new.tradb")
	r, err := OpenConfig(ro)
	if err != nil {
		t.Fatalf("OpenConfig() read-only failed: %v", err)
	}
	r.Close()

	missing := config.DefaultConfig()
	missing.Tradb.Path = filepath.Join(dir, "missing.tradb")
	if _, err := OpenConfig(missing); err == nil {
		t.Error("read-only OpenConfig() must not create files")
	}
}
