package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// ErrUnsupportedFormat is returned when tags cannot be written to a container.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Tags are the descriptive fields written into an audio file.
type Tags struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genre       string
	Year        int
	TrackNumber int
	TotalTracks int
	Comment     string
	Artwork     *Artwork
}

// TagWriter writes tags to mp3 and flac files
type TagWriter struct {
	embedArtwork bool
}

// NewTagWriter creates a TagWriter
func NewTagWriter(embedArtwork bool) *TagWriter {
	return &TagWriter{embedArtwork: embedArtwork}
}

// Write replaces the descriptive fields in path with t. Empty fields are
// left as they are in the file.
func (w *TagWriter) Write(path string, t Tags) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return w.writeID3(path, t)
	case ".flac":
		return w.writeVorbis(path, t)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func (w *TagWriter) writeID3(path string, t Tags) error {
	id3, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer id3.Close()

	id3.SetDefaultEncoding(id3v2.EncodingUTF8)
	id3.SetVersion(4)

	if t.Title != "" {
		id3.SetTitle(t.Title)
	}
	if t.Artist != "" {
		id3.SetArtist(t.Artist)
	}
	if t.Album != "" {
		id3.SetAlbum(t.Album)
	}
	if t.Genre != "" {
		id3.SetGenre(t.Genre)
	}
	if t.Year > 0 {
		id3.SetYear(strconv.Itoa(t.Year))
	}
	if t.AlbumArtist != "" {
		id3.AddTextFrame(id3.CommonID("Band/Orchestra/Accompaniment"), id3v2.EncodingUTF8, t.AlbumArtist)
	}
	if t.TrackNumber > 0 {
		id3.AddTextFrame(id3.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, trackString(t.TrackNumber, t.TotalTracks))
	}
	if t.Comment != "" {
		id3.DeleteFrames(id3.CommonID("Comments"))
		id3.AddCommentFrame(id3v2.CommentFrame{
			Encoding: id3v2.EncodingUTF8,
			Language: "eng",
			Text:     t.Comment,
		})
	}

	if w.embedArtwork && t.Artwork != nil && len(t.Artwork.Data) > 0 {
		id3.DeleteFrames(id3.CommonID("Attached picture"))
		id3.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    t.Artwork.MIME,
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     t.Artwork.Data,
		})
	}

	if err := id3.Save(); err != nil {
		return fmt.Errorf("failed to save MP3 tags: %w", err)
	}
	return nil
}

func (w *TagWriter) writeVorbis(path string, t Tags) error {
	f, err := parseFLAC(path)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	var cmtBlock *flac.MetaDataBlock
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			cmtBlock = block
			break
		}
	}
	if cmtBlock == nil {
		cmtBlock = &flac.MetaDataBlock{Type: flac.VorbisComment}
		f.Meta = append(f.Meta, cmtBlock)
	}

	cmt, err := flacvorbis.ParseFromMetaDataBlock(*cmtBlock)
	if err != nil {
		cmt = flacvorbis.New()
	}

	fields := map[string]string{}
	if t.Title != "" {
		fields[flacvorbis.FIELD_TITLE] = t.Title
	}
	if t.Artist != "" {
		fields[flacvorbis.FIELD_ARTIST] = t.Artist
	}
	if t.Album != "" {
		fields[flacvorbis.FIELD_ALBUM] = t.Album
	}
	if t.AlbumArtist != "" {
		fields["ALBUMARTIST"] = t.AlbumArtist
	}
	if t.Genre != "" {
		fields[flacvorbis.FIELD_GENRE] = t.Genre
	}
	if t.Year > 0 {
		fields[flacvorbis.FIELD_DATE] = strconv.Itoa(t.Year)
	}
	if t.TrackNumber > 0 {
		fields[flacvorbis.FIELD_TRACKNUMBER] = strconv.Itoa(t.TrackNumber)
	}
	if t.TotalTracks > 0 {
		fields["TRACKTOTAL"] = strconv.Itoa(t.TotalTracks)
	}
	if t.Comment != "" {
		fields["COMMENT"] = t.Comment
	}

	// Vorbis comments may repeat a key, so drop the old values first.
	kept := cmt.Comments[:0]
	for _, c := range cmt.Comments {
		key, _, _ := strings.Cut(c, "=")
		if _, replaced := fields[strings.ToUpper(key)]; !replaced {
			kept = append(kept, c)
		}
	}
	cmt.Comments = kept
	for key, value := range fields {
		if err := cmt.Add(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	block := cmt.Marshal()
	cmtBlock.Data = block.Data

	if w.embedArtwork && t.Artwork != nil && len(t.Artwork.Data) > 0 {
		meta := f.Meta[:0]
		for _, b := range f.Meta {
			if b.Type != flac.Picture {
				meta = append(meta, b)
			}
		}
		f.Meta = append(meta, &flac.MetaDataBlock{
			Type: flac.Picture,
			Data: flacPicture(t.Artwork),
		})
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}
	return nil
}

// flacPicture encodes a METADATA_BLOCK_PICTURE body for a front cover.
// Dimensions are left zero; decoders read them from the image itself.
// parseFLAC wraps flac.ParseFile, which panics on files that end right
// after the metadata blocks.
func parseFLAC(path string) (f *flac.File, err error) {
	defer func() {
		if r := recover(); r != nil {
			f, err = nil, fmt.Errorf("malformed FLAC stream: %v", r)
		}
	}()
	return flac.ParseFile(path)
}

func flacPicture(art *Artwork) []byte {
	mime := art.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	const description = "Front Cover"

	buf := make([]byte, 0, 32+len(mime)+len(description)+len(art.Data))
	buf = binary.BigEndian.AppendUint32(buf, 3)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(mime)))
	buf = append(buf, mime...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(description)))
	buf = append(buf, description...)
	for i := 0; i < 4; i++ {
		buf = binary.BigEndian.AppendUint32(buf, 0)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(art.Data)))
	return append(buf, art.Data...)
}

func trackString(n, total int) string {
	if total > 0 {
		return fmt.Sprintf("%d/%d", n, total)
	}
	return strconv.Itoa(n)
}

// ReadTags reads whatever tags path carries, in any container dhowden/tag
// understands (ID3v1/v2, MP4, FLAC, Ogg).
func ReadTags(path string) (*Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return &Tags{}, nil
		}
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}

	track, total := m.Track()
	t := &Tags{
		Title:       strings.TrimSpace(m.Title()),
		Artist:      strings.TrimSpace(m.Artist()),
		Album:       strings.TrimSpace(m.Album()),
		AlbumArtist: strings.TrimSpace(m.AlbumArtist()),
		Genre:       strings.TrimSpace(m.Genre()),
		Year:        m.Year(),
		TrackNumber: track,
		TotalTracks: total,
		Comment:     m.Comment(),
	}
	if pic := m.Picture(); pic != nil {
		t.Artwork = &Artwork{Data: pic.Data, MIME: pic.MIMEType}
	}
	return t, nil
}
