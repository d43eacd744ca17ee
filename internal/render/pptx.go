package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// LogoShapeName marks the picture a template reserves for the agency logo.
const LogoShapeName = "agency_logo"

const contentTypesPart = "[Content_Types].xml"

var (
	slidePartRe  = regexp.MustCompile(`^ppt/slides/slide[0-9]+\.xml$`)
	paragraphRe  = regexp.MustCompile(`(?s)<a:p(?:\s[^>]*)?>.*?</a:p>`)
	textRunRe    = regexp.MustCompile(`(?s)(<a:t(?:\s[^>]*)?>)(.*?)(</a:t>)`)
	pictureRe    = regexp.MustCompile(`(?s)<p:pic(?:\s[^>]*)?>.*?</p:pic>`)
	shapePropsRe = regexp.MustCompile(`<p:cNvPr\b[^>]*>`)
	shapeLabelRe = regexp.MustCompile(`\b(?:name|descr)="([^"]*)"`)
	blipEmbedRe  = regexp.MustCompile(`r:embed="([^"]+)"`)
	relationRe   = regexp.MustCompile(`<Relationship\b[^>]*>`)
	targetAttrRe = regexp.MustCompile(`\bTarget="[^"]*"`)
)

var imageContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
}

// Renderer fills pptx templates. It rewrites slide XML in place and copies every other
// part of the package unchanged.
type Renderer struct {
	logger *zap.Logger
}

func NewRenderer(logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{logger: logger}
}

type logoAsset struct {
	part        string
	ext         string
	contentType string
	data        []byte
}

// Render writes a filled copy of templatePath to dst. Placeholders are replaced per
// paragraph so a placeholder split across runs still matches; the paragraph keeps the
// formatting of its first run. When logoPath is set, pictures named agency_logo point at
// the logo instead of the template image.
func (r *Renderer) Render(templatePath string, fields Fields, logoPath, dst string) error {
	zr, err := zip.OpenReader(templatePath)
	if err != nil {
		return fmt.Errorf("open template %s: %w", filepath.Base(templatePath), err)
	}
	defer zr.Close()

	var logo *logoAsset
	if logoPath != "" {
		logo, err = loadLogo(logoPath, zr.File)
		if err != nil {
			return err
		}
	}

	parts := make(map[string][]byte)
	for _, f := range zr.File {
		if slidePartRe.MatchString(f.Name) || isSlideRels(f.Name) || f.Name == contentTypesPart {
			data, err := readPart(f)
			if err != nil {
				return err
			}
			parts[f.Name] = data
		}
	}

	rep := fields.replacer()
	modified := make(map[string]bool)
	logoUsed := false

	for name, data := range parts {
		if !slidePartRe.MatchString(name) {
			continue
		}

		filled := fillParagraphs(data, rep)
		if !bytes.Equal(filled, data) {
			parts[name] = filled
			modified[name] = true
		}

		if logo == nil {
			continue
		}
		relsName := slideRelsName(name)
		rels, ok := parts[relsName]
		if !ok {
			continue
		}
		relIDs := logoRelationIDs(filled)
		for _, relID := range relIDs {
			rels = retarget(rels, relID, "../media/"+path.Base(logo.part))
		}
		if len(relIDs) > 0 {
			parts[relsName] = rels
			modified[relsName] = true
			logoUsed = true
		}
	}

	if logo != nil && !logoUsed {
		r.logger.Debug("template has no logo placeholder", zap.String("template", filepath.Base(templatePath)))
		logo = nil
	}
	if logo != nil {
		if ct, ok := parts[contentTypesPart]; ok {
			parts[contentTypesPart] = ensureDefaultContentType(ct, logo.ext, logo.contentType)
			modified[contentTypesPart] = true
		}
	}

	return writePackage(dst, zr.File, parts, modified, logo)
}

func writePackage(dst string, files []*zip.File, parts map[string][]byte, modified map[string]bool, logo *logoAsset) (err error) {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dst), err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", filepath.Base(dst), cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	zw := zip.NewWriter(out)
	for _, f := range files {
		if !modified[f.Name] {
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("copy part %s: %w", f.Name, err)
			}
			continue
		}
		if err := writePart(zw, f.Name, parts[f.Name]); err != nil {
			return err
		}
	}
	if logo != nil {
		if err := writePart(zw, logo.part, logo.data); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", filepath.Base(dst), err)
	}
	return nil
}

func writePart(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("create part %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write part %s: %w", name, err)
	}
	return nil
}

func readPart(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open part %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read part %s: %w", f.Name, err)
	}
	return data, nil
}

func loadLogo(logoPath string, existing []*zip.File) (*logoAsset, error) {
	ext := strings.ToLower(filepath.Ext(logoPath))
	contentType, ok := imageContentTypes[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported logo format %q", ext)
	}

	data, err := os.ReadFile(logoPath)
	if err != nil {
		return nil, fmt.Errorf("read logo: %w", err)
	}

	taken := make(map[string]bool, len(existing))
	for _, f := range existing {
		taken[f.Name] = true
	}
	part := "ppt/media/" + LogoShapeName + ext
	for i := 1; taken[part]; i++ {
		part = fmt.Sprintf("ppt/media/%s%d%s", LogoShapeName, i, ext)
	}

	return &logoAsset{
		part:        part,
		ext:         strings.TrimPrefix(ext, "."),
		contentType: contentType,
		data:        data,
	}, nil
}

func fillParagraphs(doc []byte, rep *strings.Replacer) []byte {
	return paragraphRe.ReplaceAllFunc(doc, func(p []byte) []byte {
		return fillParagraph(p, rep)
	})
}

func fillParagraph(p []byte, rep *strings.Replacer) []byte {
	runs := textRunRe.FindAllSubmatchIndex(p, -1)
	if len(runs) == 0 {
		return p
	}

	var full strings.Builder
	for _, m := range runs {
		full.WriteString(html.UnescapeString(string(p[m[4]:m[5]])))
	}
	text := full.String()
	if !strings.Contains(text, "{{") {
		return p
	}
	replaced := rep.Replace(text)
	if replaced == text {
		return p
	}

	var out bytes.Buffer
	last := 0
	for i, m := range runs {
		out.Write(p[last:m[4]])
		if i == 0 {
			_ = xml.EscapeText(&out, []byte(replaced))
		}
		last = m[5]
	}
	out.Write(p[last:])
	return out.Bytes()
}

func logoRelationIDs(slide []byte) []string {
	var ids []string
	for _, pic := range pictureRe.FindAll(slide, -1) {
		props := shapePropsRe.Find(pic)
		if props == nil || !labelledAsLogo(props) {
			continue
		}
		if m := blipEmbedRe.FindSubmatch(pic); m != nil {
			ids = append(ids, string(m[1]))
		}
	}
	return ids
}

func labelledAsLogo(props []byte) bool {
	for _, m := range shapeLabelRe.FindAllSubmatch(props, -1) {
		if strings.Contains(strings.ToLower(string(m[1])), LogoShapeName) {
			return true
		}
	}
	return false
}

func retarget(rels []byte, relID, target string) []byte {
	idAttr := []byte(`Id="` + relID + `"`)
	return relationRe.ReplaceAllFunc(rels, func(rel []byte) []byte {
		if !bytes.Contains(rel, idAttr) {
			return rel
		}
		return targetAttrRe.ReplaceAll(rel, []byte(`Target="`+target+`"`))
	})
}

func ensureDefaultContentType(types []byte, ext, contentType string) []byte {
	if bytes.Contains(bytes.ToLower(types), []byte(`extension="`+ext+`"`)) {
		return types
	}
	entry := fmt.Sprintf(`<Default Extension="%s" ContentType="%s"/>`, ext, contentType)
	return bytes.Replace(types, []byte("</Types>"), []byte(entry+"</Types>"), 1)
}

func isSlideRels(name string) bool {
	return strings.HasPrefix(name, "ppt/slides/_rels/") && strings.HasSuffix(name, ".xml.rels")
}

func slideRelsName(slidePart string) string {
	return path.Join(path.Dir(slidePart), "_rels", path.Base(slidePart)+".rels")
}
