package extractor

import (
	"fmt"
	"strings"
)

// Codec is a transcoding target: the name yt-dlp's --audio-format takes, the
// file extension it produces and the MIME type we serve it with.
type Codec struct {
	Name     string
	Ext      string
	MimeType string
}

var codecs = map[string]Codec{
	"mp3":    {Name: "mp3", Ext: "mp3", MimeType: "audio/mpeg"},
	"aac":    {Name: "aac", Ext: "m4a", MimeType: "audio/mp4"},
	"m4a":    {Name: "m4a", Ext: "m4a", MimeType: "audio/mp4"},
	"alac":   {Name: "alac", Ext: "m4a", MimeType: "audio/mp4"},
	"opus":   {Name: "opus", Ext: "opus", MimeType: "audio/ogg"},
	"vorbis": {Name: "vorbis", Ext: "ogg", MimeType: "audio/ogg"},
	"flac":   {Name: "flac", Ext: "flac", MimeType: "audio/flac"},
	"wav":    {Name: "wav", Ext: "wav", MimeType: "audio/wav"},
}

// LookupCodec resolves a codec name such as "mp3" or "opus".
func LookupCodec(name string) (Codec, error) {
	c, ok := codecs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Codec{}, fmt.Errorf("extractor: unsupported audio codec %q", name)
	}
	return c, nil
}
