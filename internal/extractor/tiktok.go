package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	apperrors "github.com/streamgrab/backend/internal/errors"
	"github.com/streamgrab/backend/internal/identity"
	"github.com/streamgrab/backend/internal/logger"
	"github.com/streamgrab/backend/internal/media"
)

const (
	tiktokWebBase       = "https://www.tiktok.com"
	tiktokMobileAPIBase = "https://api16-normal-c-useast1a.tiktokv.com"

	// Pages occasionally balloon past 10 MB of inlined state; cap what
	// we will scan.
	maxPageBytes = 16 << 20
)

// RedirectCache memoizes short-link resolutions, which are stable per
// link. Implementations must be safe for concurrent use; nil disables
// memoization.
type RedirectCache interface {
	GetRedirect(ctx context.Context, shortURL string) (string, bool)
	SetRedirect(ctx context.Context, shortURL, resolvedURL string)
}

// TikTok extracts streams from the short-form video platform. Three
// strategies run in order, stopping at the first that yields a result:
// the mobile feed API, embedded page state, and the signed desktop
// API. Each platform surface breaks independently and in different
// release cycles, which is what the ordering encodes.
type TikTok struct {
	client     *http.Client
	noRedirect *http.Client
	ids        *identity.Provider
	cache      RedirectCache
	log        *logger.Logger

	// API bases are swapped for test server URLs in tests.
	webBase       string
	mobileAPIBase string

	videoIDPattern *regexp.Regexp
}

// NewTikTok creates the short-form video extractor. cache may be nil.
func NewTikTok(client *http.Client, ids *identity.Provider, cache RedirectCache) *TikTok {
	if client == nil {
		client = http.DefaultClient
	}
	if ids == nil {
		ids = identity.NewProvider()
	}
	noRedirect := *client
	noRedirect.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &TikTok{
		client:         client,
		noRedirect:     &noRedirect,
		ids:            ids,
		cache:          cache,
		log:            logger.Default().WithComponent("extractor.tiktok"),
		webBase:        tiktokWebBase,
		mobileAPIBase:  tiktokMobileAPIBase,
		videoIDPattern: regexp.MustCompile(`/(?:video|photo|v)/(\d+)`),
	}
}

// Name returns the extractor identifier
func (t *TikTok) Name() string { return "tiktok" }

// Test accepts URLs on the platform's hosts, including the share-link
// shorteners whose paths carry no video ID until resolved.
func (t *TikTok) Test(rawURL string) bool {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Host)
	if host != "tiktok.com" && !strings.HasSuffix(host, ".tiktok.com") {
		return false
	}
	return strings.Trim(parsed.Path, "/") != ""
}

// isShortLink reports whether the URL is a share-shortener form that
// needs redirect resolution before an ID can be read.
func isShortLink(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Host)
	return host == "vm.tiktok.com" || host == "vt.tiktok.com"
}

// Extract resolves the URL to a numeric video ID and runs the
// extraction strategies in order.
func (t *TikTok) Extract(ctx context.Context, rawURL string) (*media.ExtractResult, error) {
	pageURL := rawURL
	if isShortLink(rawURL) {
		pageURL = t.resolveShortLink(ctx, rawURL)
	}

	id := t.extractID(pageURL)
	if id == "" {
		return nil, apperrors.ExtractionFailed(t.Name(), "could not extract video ID from URL")
	}
	if !strings.Contains(pageURL, "/video/") && !strings.Contains(pageURL, "/photo/") {
		pageURL = t.webBase + "/@_/video/" + id
	}

	strategies := []struct {
		name string
		run  func(context.Context, string, string) (*tiktokItem, error)
	}{
		{"mobile-api", t.fromMobileAPI},
		{"page-state", t.fromPageState},
		{"desktop-api", t.fromDesktopAPI},
	}

	for _, s := range strategies {
		item, err := s.run(ctx, id, pageURL)
		if err != nil {
			// A broken strategy is expected; the next one may still
			// work.
			t.log.Debug(ctx, "extraction strategy failed", map[string]interface{}{
				"strategy": s.name,
				"video":    id,
				"error":    err.Error(),
			})
			continue
		}
		if item == nil || item.PlayURL == "" && item.DownloadURL == "" && len(item.Variants) == 0 {
			continue
		}

		t.log.Info(ctx, "extraction succeeded", map[string]interface{}{
			"strategy": s.name,
			"video":    id,
		})
		return t.buildResult(rawURL, id, item), nil
	}

	return nil, apperrors.ExtractionFailed(t.Name(), "all extraction strategies returned nothing")
}

// resolveShortLink follows one redirect hop by hand and returns the
// Location target, falling back to the original URL when anything goes
// wrong. Resolutions are stable, so they are cached when a cache is
// wired.
func (t *TikTok) resolveShortLink(ctx context.Context, shortURL string) string {
	if t.cache != nil {
		if resolved, ok := t.cache.GetRedirect(ctx, shortURL); ok {
			return resolved
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, shortURL, nil)
	if err != nil {
		return shortURL
	}
	req.Header.Set("User-Agent", t.ids.MobileUserAgent())

	resp, err := t.noRedirect.Do(req)
	if err != nil {
		return shortURL
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	if location == "" {
		return shortURL
	}
	if locURL, err := url.Parse(location); err == nil {
		location = req.URL.ResolveReference(locURL).String()
	}

	if t.cache != nil {
		t.cache.SetRedirect(ctx, shortURL, location)
	}
	return location
}

func (t *TikTok) extractID(rawURL string) string {
	m := t.videoIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// tiktokItem is the normalized result a strategy produces, whatever
// payload shape it parsed.
type tiktokItem struct {
	Title       string
	Author      string
	Duration    int
	Cover       string
	PlayURL     string
	DownloadURL string
	MusicURL    string
	Width       int
	Height      int
	Size        int64
	Variants    []tiktokVariant
}

type tiktokVariant struct {
	URL      string
	Bitrate  int
	GearName string
	Width    int
	Height   int
	Size     int64
}

// awemeItem is the mobile feed API's snake_case payload.
type awemeItem struct {
	AwemeID string `json:"aweme_id"`
	Desc    string `json:"desc"`
	Author  struct {
		Nickname string `json:"nickname"`
	} `json:"author"`
	Video struct {
		PlayAddr     awemeAddr `json:"play_addr"`
		DownloadAddr awemeAddr `json:"download_addr"`
		Duration     int       `json:"duration"`
		Cover        awemeAddr `json:"cover"`
		BitRate      []struct {
			BitRate  int       `json:"bit_rate"`
			GearName string    `json:"gear_name"`
			PlayAddr awemeAddr `json:"play_addr"`
		} `json:"bit_rate"`
	} `json:"video"`
	Music struct {
		Title   string    `json:"title"`
		PlayURL awemeAddr `json:"play_url"`
	} `json:"music"`
}

type awemeAddr struct {
	URLList  []string `json:"url_list"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	DataSize int64    `json:"data_size"`
}

func (a awemeAddr) first() string {
	if len(a.URLList) == 0 {
		return ""
	}
	return a.URLList[0]
}

// webItem is the camelCase item struct the web surfaces embed.
type webItem struct {
	ID     string `json:"id"`
	Desc   string `json:"desc"`
	Author struct {
		Nickname string `json:"nickname"`
		UniqueID string `json:"uniqueId"`
	} `json:"author"`
	Video struct {
		PlayAddr     string `json:"playAddr"`
		DownloadAddr string `json:"downloadAddr"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		Duration     int    `json:"duration"`
		Bitrate      int    `json:"bitrate"`
		Cover        string `json:"cover"`
		BitrateInfo  []struct {
			Bitrate  int    `json:"Bitrate"`
			GearName string `json:"GearName"`
			PlayAddr struct {
				URLList  []string `json:"UrlList"`
				Width    int      `json:"Width"`
				Height   int      `json:"Height"`
				DataSize int64    `json:"DataSize"`
			} `json:"PlayAddr"`
		} `json:"bitrateInfo"`
	} `json:"video"`
	Music struct {
		Title   string `json:"title"`
		PlayURL string `json:"playUrl"`
	} `json:"music"`
}

func (w *webItem) toItem() *tiktokItem {
	item := &tiktokItem{
		Title:       w.Desc,
		Author:      w.Author.Nickname,
		Duration:    w.Video.Duration,
		Cover:       w.Video.Cover,
		PlayURL:     w.Video.PlayAddr,
		DownloadURL: w.Video.DownloadAddr,
		MusicURL:    w.Music.PlayURL,
		Width:       w.Video.Width,
		Height:      w.Video.Height,
	}
	for _, b := range w.Video.BitrateInfo {
		if len(b.PlayAddr.URLList) == 0 {
			continue
		}
		item.Variants = append(item.Variants, tiktokVariant{
			URL:      b.PlayAddr.URLList[0],
			Bitrate:  b.Bitrate,
			GearName: b.GearName,
			Width:    b.PlayAddr.Width,
			Height:   b.PlayAddr.Height,
			Size:     b.PlayAddr.DataSize,
		})
	}
	return item
}

func (a *awemeItem) toItem() *tiktokItem {
	item := &tiktokItem{
		Title:       a.Desc,
		Author:      a.Author.Nickname,
		Duration:    a.Video.Duration / 1000,
		Cover:       a.Video.Cover.first(),
		PlayURL:     a.Video.PlayAddr.first(),
		DownloadURL: a.Video.DownloadAddr.first(),
		MusicURL:    a.Music.PlayURL.first(),
		Width:       a.Video.PlayAddr.Width,
		Height:      a.Video.PlayAddr.Height,
		Size:        a.Video.PlayAddr.DataSize,
	}
	for _, b := range a.Video.BitRate {
		if len(b.PlayAddr.URLList) == 0 {
			continue
		}
		item.Variants = append(item.Variants, tiktokVariant{
			URL:      b.PlayAddr.URLList[0],
			Bitrate:  b.BitRate,
			GearName: b.GearName,
			Width:    b.PlayAddr.Width,
			Height:   b.PlayAddr.Height,
			Size:     b.PlayAddr.DataSize,
		})
	}
	return item
}

// fromMobileAPI is strategy one: the mobile app's feed endpoint, which
// historically tolerates unauthenticated requests.
func (t *TikTok) fromMobileAPI(ctx context.Context, id, _ string) (*tiktokItem, error) {
	endpoint := t.mobileAPIBase + "/aweme/v1/feed/?aweme_id=" + url.QueryEscape(id) +
		"&version_code=262&app_name=musical_ly&channel=App&device_id=" + t.ids.DeviceID() +
		"&os_version=14.4.2&device_platform=iphone&device_type=iPhone9"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", t.ids.MobileUserAgent())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed endpoint returned %d", resp.StatusCode)
	}

	var feed struct {
		AwemeList []awemeItem `json:"aweme_list"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("feed response parse failed: %w", err)
	}

	// The feed can lead with unrelated items; match on the ID.
	for i := range feed.AwemeList {
		if feed.AwemeList[i].AwemeID == id {
			return feed.AwemeList[i].toItem(), nil
		}
	}
	return nil, fmt.Errorf("feed response did not contain item %s", id)
}

// Script blocks the web page embeds its state in, tried in order.
var (
	universalDataRe = regexp.MustCompile(`(?s)<script[^>]+id="__UNIVERSAL_DATA_FOR_REHYDRATION__"[^>]*>(.*?)</script>`)
	sigiStateRe     = regexp.MustCompile(`(?s)<script[^>]+id="SIGI_STATE"[^>]*>(.*?)</script>`)
	nextDataRe      = regexp.MustCompile(`(?s)<script[^>]+id="__NEXT_DATA__"[^>]*>(.*?)</script>`)
	playAddrRe      = regexp.MustCompile(`"playAddr"\s*:\s*"([^"]+)"`)
	downloadAddrRe  = regexp.MustCompile(`"downloadAddr"\s*:\s*"([^"]+)"`)
)

// fromPageState is strategy two: fetch the page and read whichever
// embedded state block this page build ships.
func (t *TikTok) fromPageState(ctx context.Context, id, pageURL string) (*tiktokItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", t.ids.BrowserUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page fetch returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, err
	}
	page := string(body)

	if item, err := parseUniversalData(page); err == nil {
		return item, nil
	}
	if item, err := parseSigiState(page, id); err == nil {
		return item, nil
	}
	if item, err := parseNextData(page); err == nil {
		return item, nil
	}
	return parseScriptScan(page)
}

func parseUniversalData(page string) (*tiktokItem, error) {
	m := universalDataRe.FindStringSubmatch(page)
	if m == nil {
		return nil, fmt.Errorf("universal rehydration block not present")
	}

	var outer struct {
		DefaultScope map[string]json.RawMessage `json:"__DEFAULT_SCOPE__"`
	}
	if err := json.Unmarshal([]byte(m[1]), &outer); err != nil {
		return nil, fmt.Errorf("universal rehydration parse failed: %w", err)
	}

	raw, ok := outer.DefaultScope["webapp.video-detail"]
	if !ok {
		return nil, fmt.Errorf("universal rehydration has no video detail scope")
	}

	var detail struct {
		ItemInfo struct {
			ItemStruct webItem `json:"itemStruct"`
		} `json:"itemInfo"`
	}
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("video detail parse failed: %w", err)
	}
	if detail.ItemInfo.ItemStruct.ID == "" {
		return nil, fmt.Errorf("video detail scope is empty")
	}
	return detail.ItemInfo.ItemStruct.toItem(), nil
}

func parseSigiState(page, id string) (*tiktokItem, error) {
	m := sigiStateRe.FindStringSubmatch(page)
	if m == nil {
		return nil, fmt.Errorf("global state block not present")
	}

	var state struct {
		ItemModule map[string]webItem `json:"ItemModule"`
	}
	if err := json.Unmarshal([]byte(m[1]), &state); err != nil {
		return nil, fmt.Errorf("global state parse failed: %w", err)
	}

	item, ok := state.ItemModule[id]
	if !ok {
		return nil, fmt.Errorf("global state has no item %s", id)
	}
	return item.toItem(), nil
}

func parseNextData(page string) (*tiktokItem, error) {
	m := nextDataRe.FindStringSubmatch(page)
	if m == nil {
		return nil, fmt.Errorf("framework data block not present")
	}

	var data struct {
		Props struct {
			PageProps struct {
				ItemInfo struct {
					ItemStruct webItem `json:"itemStruct"`
				} `json:"itemInfo"`
			} `json:"pageProps"`
		} `json:"props"`
	}
	if err := json.Unmarshal([]byte(m[1]), &data); err != nil {
		return nil, fmt.Errorf("framework data parse failed: %w", err)
	}
	if data.Props.PageProps.ItemInfo.ItemStruct.ID == "" {
		return nil, fmt.Errorf("framework data has no item")
	}
	return data.Props.PageProps.ItemInfo.ItemStruct.toItem(), nil
}

// parseScriptScan is the last-ditch page strategy: grep the raw HTML
// for address fields without decoding any state block.
func parseScriptScan(page string) (*tiktokItem, error) {
	item := &tiktokItem{}
	if m := playAddrRe.FindStringSubmatch(page); m != nil {
		item.PlayURL = unescapeJSONString(m[1])
	}
	if m := downloadAddrRe.FindStringSubmatch(page); m != nil {
		item.DownloadURL = unescapeJSONString(m[1])
	}
	if item.PlayURL == "" && item.DownloadURL == "" {
		return nil, fmt.Errorf("no address fields found in page scripts")
	}
	return item, nil
}

// unescapeJSONString undoes the escaping of a JSON string captured by
// regex out of a script body.
func unescapeJSONString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return strings.ReplaceAll(s, `\/`, "/")
	}
	return out
}

// fromDesktopAPI is strategy three: the desktop site's item-detail
// endpoint, dressed with synthetic browser parameters.
func (t *TikTok) fromDesktopAPI(ctx context.Context, id, _ string) (*tiktokItem, error) {
	params := t.desktopParams(id)
	endpoint := t.webBase + "/api/item/detail/?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", t.ids.BrowserUserAgent())
	req.Header.Set("Referer", t.webBase+"/")
	req.Header.Set("Cookie", t.sessionCookie())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("item detail endpoint returned %d", resp.StatusCode)
	}

	var detail struct {
		StatusCode int `json:"statusCode"`
		ItemInfo   struct {
			ItemStruct webItem `json:"itemStruct"`
		} `json:"itemInfo"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("item detail parse failed: %w", err)
	}
	if detail.StatusCode != 0 {
		return nil, fmt.Errorf("item detail status %d", detail.StatusCode)
	}
	if detail.ItemInfo.ItemStruct.ID == "" {
		return nil, fmt.Errorf("item detail is empty")
	}
	return detail.ItemInfo.ItemStruct.toItem(), nil
}

// desktopParams fabricates the browser-fingerprint query the desktop
// API expects. Shape only; none of it is cryptographic.
func (t *TikTok) desktopParams(id string) url.Values {
	params := url.Values{}
	params.Set("itemId", id)
	params.Set("aid", "1988")
	params.Set("app_name", "tiktok_web")
	params.Set("channel", "tiktok_web")
	params.Set("device_platform", "web_pc")
	params.Set("device_id", t.ids.DeviceID())
	params.Set("browser_language", "en-US")
	params.Set("browser_name", "Mozilla")
	params.Set("browser_platform", "Win32")
	params.Set("browser_version", "5.0")
	params.Set("screen_width", "1920")
	params.Set("screen_height", "1080")
	params.Set("region", "US")
	params.Set("tz_name", "America/New_York")
	params.Set("verifyFp", "verify_"+t.ids.SessionToken(8))
	params.Set("msToken", t.ids.SessionToken(32))
	return params
}

func (t *TikTok) sessionCookie() string {
	return "msToken=" + t.ids.SessionToken(32) +
		"; ttwid=" + t.ids.SessionToken(16) +
		"; tt_csrf_token=" + t.ids.SessionToken(8)
}

// buildResult converts a normalized item into the extract result,
// dressing every stream URL with synthetic parameters and session-like
// cookies that reduce edge-delivery rejection.
func (t *TikTok) buildResult(originURL, id string, item *tiktokItem) *media.ExtractResult {
	msToken := t.ids.SessionToken(32)
	headers := map[string]string{
		"Referer":    t.webBase + "/",
		"User-Agent": t.ids.BrowserUserAgent(),
		"Cookie":     "msToken=" + msToken + "; ttwid=" + t.ids.SessionToken(16),
	}

	quality := media.QualityForHeight(item.Height)
	seen := map[string]bool{}
	var streams []media.StreamDescriptor

	add := func(s media.StreamDescriptor) {
		if s.SourceURL == "" || seen[s.SourceURL] {
			return
		}
		seen[s.SourceURL] = true
		s.SourceURL = t.signStreamURL(s.SourceURL, msToken)
		streams = append(streams, s)
	}

	if item.DownloadURL != "" {
		add(media.StreamDescriptor{
			SourceURL:         item.DownloadURL,
			Container:         "mp4",
			Quality:           quality,
			Size:              item.Size,
			Width:             item.Width,
			Height:            item.Height,
			Headers:           headers,
			HasVideo:          true,
			HasAudio:          true,
			IsDownloadVariant: true,
		})
	}
	if item.PlayURL != "" {
		add(media.StreamDescriptor{
			SourceURL: item.PlayURL,
			Container: "mp4",
			Quality:   quality,
			Size:      item.Size,
			Width:     item.Width,
			Height:    item.Height,
			Headers:   headers,
			HasVideo:  true,
			HasAudio:  true,
		})
	}
	for _, v := range item.Variants {
		q := media.QualityForHeight(v.Height)
		if q == media.QualityUnknown {
			q = media.ParseVideoQuality(v.GearName)
		}
		add(media.StreamDescriptor{
			SourceURL: v.URL,
			Container: "mp4",
			Quality:   q,
			Size:      v.Size,
			Bitrate:   v.Bitrate,
			Width:     v.Width,
			Height:    v.Height,
			Headers:   headers,
			HasVideo:  true,
			HasAudio:  true,
		})
	}
	if item.MusicURL != "" {
		add(media.StreamDescriptor{
			SourceURL:   item.MusicURL,
			Container:   audioContainer(item.MusicURL),
			Quality:     media.QualityAudioHigh,
			Headers:     headers,
			HasAudio:    true,
			IsAudioOnly: true,
		})
	}

	title := item.Title
	if title == "" {
		title = item.Author
	}
	if title == "" {
		title = "tiktok-" + id
	}

	return &media.ExtractResult{
		Title:     title,
		Duration:  item.Duration,
		Thumbnail: item.Cover,
		Streams:   streams,
		SourceURL: originURL,
		Extractor: t.Name(),
	}
}

// signStreamURL appends the synthetic query parameters delivery edges
// look for. Existing parameters are preserved; caller-visible behavior
// is additive only.
func (t *TikTok) signStreamURL(rawURL, msToken string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Get("aid") == "" {
		q.Set("aid", "1988")
	}
	if q.Get("msToken") == "" {
		q.Set("msToken", msToken)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func audioContainer(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "mp3"
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if ext == "" {
		return "mp3"
	}
	return ext
}
