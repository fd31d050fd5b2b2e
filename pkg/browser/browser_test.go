package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmascraper/pkg/config"
	errs "pharmascraper/pkg/errors"
	"pharmascraper/pkg/logger"
	"pharmascraper/pkg/prefecture"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", context.Background(), nil))

	err := classify("search", context.Background(), fmt.Errorf("wait: %w", context.DeadlineExceeded))
	assert.Equal(t, errs.KindTimeout, errs.KindOf(err))

	expired, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()
	err = classify("search", expired, errors.New("could not find node"))
	assert.Equal(t, errs.KindTimeout, errs.KindOf(err))

	err = classify("search", context.Background(), errors.New("net::ERR_CONNECTION_RESET"))
	assert.Equal(t, errs.KindNavigation, errs.KindOf(err))
}

func TestWithPage(t *testing.T) {
	err := withPage(errs.Timeout("next page", context.DeadlineExceeded), "13", 2)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "13", e.Partition)
	assert.Equal(t, 2, e.Page)

	plain := errors.New("plain")
	assert.Equal(t, plain, withPage(plain, "13", 2))
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, link, want string
	}{
		{"https://example.jp/znk-web/juminkanja/S2400/", "detail?id=1", "https://example.jp/znk-web/juminkanja/S2400/detail?id=1"},
		{"https://example.jp/a/b", "/c/d", "https://example.jp/c/d"},
		{"https://example.jp/a/b", "https://other.jp/x", "https://other.jp/x"},
		{"", "/c/d", "/c/d"},
	}
	for _, tt := range tests {
		got, err := resolveURL(tt.base, tt.link)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := resolveURL("https://example.jp", "http://[::1")
	assert.Error(t, err)
}

func TestAllocatorOptions(t *testing.T) {
	headless := allocatorOptions(config.BrowserConfig{Headless: true, UserAgent: "ua"})
	headed := allocatorOptions(config.BrowserConfig{Headless: false})
	assert.Len(t, headless, len(chromedp.DefaultExecAllocatorOptions)+8)
	assert.Len(t, headed, len(chromedp.DefaultExecAllocatorOptions)+7)
}

func TestCloseIsIdempotent(t *testing.T) {
	f := New(config.BrowserConfig{}, time.Second, nil, logger.NewNopLogger())

	cancelled := 0
	s := &Session{partition: prefecture.Prefecture{Code: "13"}, tabCancel: func() { cancelled++ }, page: -1}
	require.NoError(t, f.Close(s))
	require.NoError(t, f.Close(s))
	assert.Equal(t, 1, cancelled)
	assert.NoError(t, f.Close(nil))

	_, err := f.FetchPage(context.Background(), s, 0)
	assert.True(t, errs.IsFatal(err))

	// shutdown without a started browser
	f.Shutdown()
}

// fakePortal serves a search form, three result pages and detail pages
func fakePortal() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
<select id="todofukenCd"><option value="01">北海道</option><option value="13">東京都</option></select>
<select id="iryoKikanShubetsuCd"><option value="1">病院</option><option value="5">薬局</option></select>
<button onclick="location.href='/results?page=0&pref='+document.getElementById('todofukenCd').value">検索</button>
</body></html>`)
	})
	mux.HandleFunc("/results", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		fmt.Fprintf(w, `<html><body><div class="result-count">3件</div><table class="result-table"><tbody>
<tr><td>%d</td><td><a href="/detail?id=%d">薬局%d</a></td><td>東京都</td></tr>
</tbody></table><ul>`, 13000+page, page, page)
		if page < 2 {
			fmt.Fprintf(w, `<li><a href="/results?page=%d">次へ</a></li>`, page+1)
		} else {
			fmt.Fprint(w, `<li class="disabled"><a href="#">次へ</a></li>`)
		}
		fmt.Fprint(w, `</ul></body></html>`)
	})
	mux.HandleFunc("/detail", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><table><tr><th>総取扱処方箋数</th><td>1,2%s0</td></tr></table></body></html>`, r.URL.Query().Get("id"))
	})
	return httptest.NewServer(mux)
}

func chromeAvailable() bool {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func TestFetcherAgainstFakePortal(t *testing.T) {
	if testing.Short() || os.Getenv("PHARMASCRAPER_BROWSER_TESTS") == "" || !chromeAvailable() {
		t.Skip("browser tests disabled")
	}

	srv := fakePortal()
	defer srv.Close()

	cfg := config.DefaultConfig().Browser
	cfg.BaseURL = srv.URL + "/search"
	f := New(cfg, 15*time.Second, nil, logger.NewNopLogger())
	defer f.Shutdown()

	ctx := context.Background()
	p, _ := prefecture.Lookup("13")
	s, err := f.Open(ctx, p, nil)
	require.NoError(t, err)
	defer f.Close(s)

	page, err := f.FetchPage(ctx, s, 0)
	require.NoError(t, err)
	assert.True(t, page.HasNext)
	assert.Contains(t, page.Details["/detail?id=0"], "1,200")

	// jump forward over page 1
	page, err = f.FetchPage(ctx, s, 2)
	require.NoError(t, err)
	assert.False(t, page.HasNext)
	assert.Contains(t, page.HTML, "13002")

	page, err = f.FetchPage(ctx, s, 5)
	require.NoError(t, err)
	assert.True(t, page.PastEnd())

	// going back re-runs the search
	page, err = f.FetchPage(ctx, s, 1)
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "13001")

	// stored ids get no detail visits
	stored, err := f.Open(ctx, p, func(string) bool { return true })
	require.NoError(t, err)
	defer f.Close(stored)
	page, err = f.FetchPage(ctx, stored, 0)
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "13000")
	assert.Empty(t, page.Details)
}
