package harness

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"bookcal/internal/evaluate"
	"bookcal/internal/model"
)

type scriptedExtractor struct {
	mu      sync.Mutex
	inputs  []string
	results map[string]model.ParseResult
	errs    map[string]error
}

func (s *scriptedExtractor) Extract(_ context.Context, text string, page model.PageContext) (model.ParseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, text)
	if err := s.errs[text]; err != nil {
		return nil, err
	}
	return s.results[text], nil
}

func jazz() model.DetectedEvent {
	return model.DetectedEvent{
		Summary:  "Jazz Night",
		Start:    model.DateSpec{DateTime: "2024-05-03T19:00:00+09:00"},
		End:      model.DateSpec{DateTime: "2024-05-03T21:00:00+09:00"},
		Location: "Blue Note Seoul",
	}
}

func testCases() []Case {
	return []Case{
		{ID: "c1", Category: "concert", Input: "jazz", Expected: model.ExpectedEvent{Summary: "jazz night", Start: "2024-05-03", End: "2024-05-03", Location: "blue note"}},
		{ID: "m1", Category: "movie", Input: "movie", Expected: model.ExpectedEvent{Summary: "Dune", Start: "2024-05-04", End: "2024-05-04"}},
		{ID: "c2", Category: "concert", Input: "broken", Expected: model.ExpectedEvent{Summary: "x", Start: "2024-05-05", End: "2024-05-05"}},
	}
}

func newScripted() *scriptedExtractor {
	return &scriptedExtractor{
		results: map[string]model.ParseResult{
			"jazz":  {jazz()},
			"movie": {{Summary: "Dune Part Two", Start: model.DateSpec{Date: "2024-05-04"}}},
		},
		errs: map[string]error{"broken": errors.New("quota exceeded")},
	}
}

func TestRunScoresCasesInOrder(t *testing.T) {
	ext := newScripted()
	h := New(ext, 0)

	out, err := h.Run(context.Background(), testCases(), "")
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, []string{"jazz", "movie", "broken"}, ext.inputs)
	assert.Equal(t, []string{"c1", "m1", "c2"}, []string{out[0].ID, out[1].ID, out[2].ID})

	assert.True(t, out[0].Passed())
	assert.Equal(t, "Jazz Night", out[0].ParsedSummary())

	// No parsed end: the end check fails but the outcome is still recorded.
	assert.True(t, out[1].Verdict.SummaryMatch)
	assert.False(t, out[1].Verdict.EndMatch)
	assert.False(t, out[1].Passed())

	assert.Equal(t, "quota exceeded", out[2].Error)
	assert.False(t, out[2].Passed())
	assert.Empty(t, out[2].Parsed)

	assert.Equal(t, "33.3", h.Accuracy())
	assert.Len(t, h.Outcomes(), 3)
}

func TestRunCategoryFilter(t *testing.T) {
	ext := newScripted()
	h := New(ext, 0)

	out, err := h.Run(context.Background(), testCases(), "concert")
	require.NoError(t, err)
	assert.Equal(t, []string{"jazz", "broken"}, ext.inputs)
	assert.Len(t, out, 2)

	assert.Len(t, Filter(testCases(), "all"), 3)
	assert.Empty(t, Filter(testCases(), "exhibition"))
	assert.Empty(t, Filter(testCases(), "Concert"))
}

func TestRunHonorsDelay(t *testing.T) {
	h := New(newScripted(), 40*time.Millisecond)

	start := time.Now()
	_, err := h.Run(context.Background(), testCases(), "")
	require.NoError(t, err)
	// Three calls need two waits.
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

type slowExtractor struct {
	took time.Duration

	mu     sync.Mutex
	starts []time.Time
	ends   []time.Time
}

func (s *slowExtractor) Extract(_ context.Context, text string, _ model.PageContext) (model.ParseResult, error) {
	s.mu.Lock()
	s.starts = append(s.starts, time.Now())
	s.mu.Unlock()

	time.Sleep(s.took)

	s.mu.Lock()
	s.ends = append(s.ends, time.Now())
	s.mu.Unlock()
	return nil, nil
}

func TestRunDelayFollowsSlowCalls(t *testing.T) {
	ext := &slowExtractor{took: 60 * time.Millisecond}
	h := New(ext, 50*time.Millisecond)

	_, err := h.Run(context.Background(), testCases(), "")
	require.NoError(t, err)

	require.Len(t, ext.starts, 3)
	require.Len(t, ext.ends, 3)
	for i := 1; i < 3; i++ {
		gap := ext.starts[i].Sub(ext.ends[i-1])
		assert.GreaterOrEqual(t, gap, 45*time.Millisecond, "pause before call %d", i+1)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := New(newScripted(), time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := h.Run(ctx, testCases(), "")
	require.Error(t, err)
	assert.Len(t, out, 1)
	assert.Len(t, h.Outcomes(), 1)
}

func TestAccuracyAndClear(t *testing.T) {
	h := New(newScripted(), 0)
	assert.Equal(t, "0.0", h.Accuracy())

	first := h.SessionID()
	_, err := h.Run(context.Background(), testCases()[:1], "")
	require.NoError(t, err)
	assert.Equal(t, "100.0", h.Accuracy())

	h.Clear()
	assert.Empty(t, h.Outcomes())
	assert.Equal(t, "0.0", h.Accuracy())
	assert.NotEqual(t, first, h.SessionID())
}

func TestAccuracyRounding(t *testing.T) {
	pass := TestOutcome{Verdict: allTrue()}
	fail := TestOutcome{}
	assert.Equal(t, "66.7", Accuracy([]TestOutcome{pass, pass, fail}))
	assert.Equal(t, "50.0", Accuracy([]TestOutcome{pass, fail}))
}

func TestCSVQuotingRoundTrip(t *testing.T) {
	tricky := `He said "hi", then
left`
	outcomes := []TestOutcome{
		{ID: "q1", Category: "concert", Input: tricky, Expected: model.ExpectedEvent{Summary: `"Quoted", title`}, Verdict: allTrue(), ElapsedMs: 1234},
		{ID: "q2", Category: "movie", Input: "plain", Error: "boom, again"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, outcomes))
	assert.True(t, strings.HasPrefix(buf.String(), strings.Join(Columns, ",")+"\n"))
	assert.Contains(t, buf.String(), `"He said ""hi"", then`)

	rows, err := ReadSummaries(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, tricky, rows[0].Input)
	assert.Equal(t, `"Quoted", title`, rows[0].ExpectedSummary)
	assert.True(t, rows[0].Pass)
	assert.EqualValues(t, 1234, rows[0].ElapsedMs)
	assert.False(t, rows[1].Pass)
	assert.Equal(t, "boom, again", rows[1].Error)
}

func TestCSVFoldsCRLF(t *testing.T) {
	outcomes := []TestOutcome{{ID: "w1", Category: "play", Input: "line one\r\nline two", Expected: model.ExpectedEvent{Summary: "Hamlet\r\n\"Act I\""}}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, outcomes))
	assert.NotContains(t, buf.String(), "one\r\n")

	rows, err := ReadSummaries(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "line one\nline two", rows[0].Input)
	assert.Equal(t, "Hamlet\n\"Act I\"", rows[0].ExpectedSummary)
}

func TestReadSummariesRejectsForeignCSV(t *testing.T) {
	_, err := ReadSummaries(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ReadSummaries(strings.NewReader("a,b,c,d,e,f,g,h,i,j,k,l\n"))
	assert.Error(t, err)
}

func TestWriteXLSX(t *testing.T) {
	h := New(newScripted(), 0)
	_, err := h.Run(context.Background(), testCases(), "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, h.Outcomes()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("results")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, "c1", rows[1][0])

	summary, err := f.GetRows("summary")
	require.NoError(t, err)
	require.Len(t, summary, 4)
	assert.Equal(t, []string{"concert", "2", "1", "50.0"}, summary[1])
	assert.Equal(t, "all", summary[3][0])

	path := filepath.Join(t.TempDir(), "results.xlsx")
	require.NoError(t, h.ExportXLSX(path))
}

func TestReport(t *testing.T) {
	h := New(newScripted(), 0)
	_, err := h.Run(context.Background(), testCases(), "")
	require.NoError(t, err)

	var buf bytes.Buffer
	h.Report(&buf)
	out := buf.String()
	assert.Contains(t, out, "concert")
	assert.Contains(t, out, "movie")
	assert.Contains(t, out, "50.0")
	assert.Contains(t, out, "33.3")
}

func TestParseCases(t *testing.T) {
	data := []byte(`
cases:
  - id: jazz
    category: concert
    input: "재즈 나이트 2024년 5월 3일 오후 7시"
    expected:
      summary: 재즈 나이트
      start: "2024-05-03"
      end: "2024-05-03"
      location: 블루노트
  - category: movie
    input: "듄 5월 4일 CGV"
    expected:
      summary: 듄
      start: "2024-05-04"
      end: "2024-05-04"
`)
	cases, err := ParseCases(data)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "jazz", cases[0].ID)
	assert.Equal(t, "블루노트", cases[0].Expected.Location)
	assert.Equal(t, "case-002", cases[1].ID)
	assert.Equal(t, []string{"concert", "movie"}, Categories(cases))

	_, err = ParseCases([]byte("cases:\n  - id: a\n    input: x\n  - id: a\n    input: y\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = ParseCases([]byte("cases:\n  - id: a\n    input: '  '\n"))
	assert.ErrorContains(t, err, "empty input")
}

func TestLoadCasesFromRepoDataset(t *testing.T) {
	cases, err := LoadCases(filepath.Join("..", "..", "testdata", "cases.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cases)
}

func allTrue() evaluate.Verdict {
	return evaluate.Verdict{SummaryMatch: true, StartMatch: true, EndMatch: true, LocationMatch: true}
}
