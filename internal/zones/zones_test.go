package zones

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookcal/internal/relevance"
)

const confirmationPage = `<!DOCTYPE html>
<html><head><title>예매 완료 | 티켓</title><script>var t = "2024년 1월 1일";</script></head>
<body>
  <header><p>로그인 고객센터</p></header>
  <div class="reserve-info">
    <dl><dt>공연명</dt><dd>뮤지컬 레미제라블</dd>
        <dt>일시</dt><dd>2024년 5월 3일 오후 7:30</dd>
        <dt>장소</dt><dd>블루스퀘어 신한카드홀</dd></dl>
  </div>
  <p>예매해 주셔서 감사합니다. 공연 당일 좌석을 확인하세요.</p>
  <p>예매해 주셔서 감사합니다. 공연 당일 좌석을 확인하세요.</p>
  <footer><p>(주)티켓회사 서울특별시</p></footer>
</body></html>`

func TestScanConfirmationPage(t *testing.T) {
	page, err := NewScanner().Scan(strings.NewReader(confirmationPage), "https://tickets.example.com/confirm")
	require.NoError(t, err)

	assert.Equal(t, "예매 완료 | 티켓", page.Title)
	assert.Equal(t, "https://tickets.example.com/confirm", page.URL)
	assert.NotContains(t, page.Text, "var t")
	require.NotEmpty(t, page.Fragments)

	first := page.Fragments[0]
	assert.Equal(t, relevance.ZoneStructured, first.Zone)
	assert.Contains(t, first.Text, "일시 2024년 5월 3일 오후 7:30")
	assert.Equal(t, len([]rune(first.Text)), first.Length)

	var thanks int
	for _, f := range page.Fragments {
		if strings.HasPrefix(f.Text, "예매해 주셔서") {
			thanks++
			assert.Equal(t, relevance.ZoneGeneric, f.Zone)
		}
	}
	assert.Equal(t, 1, thanks, "duplicate paragraphs are collapsed")
}

func TestScanFeedsSelector(t *testing.T) {
	page, err := NewScanner().Scan(strings.NewReader(confirmationPage), "")
	require.NoError(t, err)

	got, ok := relevance.NewSelector(nil).SelectBestFragment(page.Text, page.Fragments)
	require.True(t, ok)
	assert.Contains(t, got.Fragment.Text, "레미제라블")
}

func TestFromText(t *testing.T) {
	got := FromText("콘서트 안내\r\n\r\n  2024년 5월 3일   19:00 \n\n\n")
	require.Len(t, got, 2)
	assert.Equal(t, "콘서트 안내", got[0].Text)
	assert.Equal(t, "2024년 5월 3일 19:00", got[1].Text)
	assert.Empty(t, FromText("  \n\n "))
}
