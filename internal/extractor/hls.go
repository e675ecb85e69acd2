package extractor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	apperrors "github.com/streamgrab/backend/internal/errors"
	"github.com/streamgrab/backend/internal/media"
)

// extractPlaylist expands an HLS playlist URL. A master playlist yields
// one descriptor per variant; a media playlist yields a single
// descriptor for itself. Downloading a playlist descriptor is a remux
// job, not a byte copy, which the orchestrator routes accordingly.
func (g *Generic) extractPlaylist(ctx context.Context, rawURL string) (*media.ExtractResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperrors.ExtractionFailed(g.Name(), "invalid playlist URL: "+err.Error())
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, apperrors.ExtractionFailed(g.Name(), "playlist fetch failed: "+err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.ExtractionFailed(g.Name(),
			fmt.Sprintf("playlist fetch returned %d", resp.StatusCode))
	}

	playlist, listType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return nil, apperrors.ExtractionFailed(g.Name(), "playlist parse failed: "+err.Error())
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.ExtractionFailed(g.Name(), "invalid playlist URL: "+err.Error())
	}

	var streams []media.StreamDescriptor
	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		streams = variantStreams(base, master)
	case m3u8.MEDIA:
		streams = []media.StreamDescriptor{{
			SourceURL: rawURL,
			Container: "m3u8",
			Quality:   media.QualityUnknown,
			HasVideo:  true,
			HasAudio:  true,
		}}
	default:
		return nil, apperrors.ExtractionFailed(g.Name(), "unrecognized playlist type")
	}

	if len(streams) == 0 {
		return nil, apperrors.ExtractionFailed(g.Name(), "playlist has no variants")
	}

	return &media.ExtractResult{
		Title:     fileTitle(rawURL),
		Streams:   streams,
		SourceURL: rawURL,
		Extractor: g.Name(),
	}, nil
}

func variantStreams(base *url.URL, master *m3u8.MasterPlaylist) []media.StreamDescriptor {
	streams := make([]media.StreamDescriptor, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		stream := media.StreamDescriptor{
			SourceURL: resolveRef(base, v.URI),
			Container: "m3u8",
			Quality:   media.QualityForHeight(resolutionHeight(v.Resolution)),
			Bitrate:   int(v.Bandwidth),
			Codec:     v.Codecs,
			FPS:       int(v.FrameRate),
			HasVideo:  true,
			HasAudio:  true,
		}
		if w, h := resolutionDims(v.Resolution); h > 0 {
			stream.Width, stream.Height = w, h
		}
		streams = append(streams, stream)
	}
	return streams
}

func resolveRef(base *url.URL, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}

// resolutionDims parses the "WxH" RESOLUTION attribute.
func resolutionDims(res string) (w, h int) {
	parts := strings.SplitN(strings.ToLower(res), "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, _ = strconv.Atoi(parts[0])
	h, _ = strconv.Atoi(parts[1])
	return w, h
}

func resolutionHeight(res string) int {
	_, h := resolutionDims(res)
	return h
}
