// Package output serializes aggregated controller data to XML documents.
package output

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beevik/etree"
	monerrors "github.com/rcourtman/fabricpulse/internal/errors"
	"github.com/rcourtman/fabricpulse/internal/logging"
	"github.com/rcourtman/fabricpulse/internal/metrics"
	"github.com/rcourtman/fabricpulse/internal/models"
)

// Document kinds, also used as metric labels.
const (
	KindInterfaces = "interfaces"
	KindPolicerCAM = "policer-cam"
)

const (
	interfacesDir = "capacity/interfaces"
	policerCamDir = "capacity/policer-cam"
)

// Uploader copies a written document to secondary storage.
type Uploader interface {
	Upload(ctx context.Context, key, path string) error
}

// Writer renders per-controller documents under a base directory.
type Writer struct {
	baseDir string
	filter  *UsageFilter
	mirror  Uploader
}

// Result lists the documents written by one WriteAll call.
type Result struct {
	Written []string
	Failed  int
}

// NewWriter creates a writer. filter and mirror may be nil.
func NewWriter(baseDir string, filter *UsageFilter, mirror Uploader) *Writer {
	return &Writer{baseDir: baseDir, filter: filter, mirror: mirror}
}

// InterfacesPath returns the interface statistics document path of a controller.
func (w *Writer) InterfacesPath(controller string) string {
	return filepath.Join(w.baseDir, interfacesDir, controller+".xml")
}

// PolicerCAMPath returns the policer CAM capacity document path of a controller.
func (w *Writer) PolicerCAMPath(controller string) string {
	return filepath.Join(w.baseDir, policerCamDir, controller+"-pol-capacity.xml")
}

// WriteAll writes both documents for every controller. A document that cannot
// be written is logged and skipped.
func (w *Writer) WriteAll(ctx context.Context, controllers []*models.Controller) Result {
	logger := logging.FromContext(ctx)
	var res Result

	for _, c := range controllers {
		for _, doc := range []struct {
			kind  string
			path  string
			build func(*models.Controller) *etree.Document
		}{
			{KindInterfaces, w.InterfacesPath(c.Name), w.InterfacesDocument},
			{KindPolicerCAM, w.PolicerCAMPath(c.Name), CapacityDocument},
		} {
			err := w.write(doc.path, c.Name, doc.build(c))
			metrics.RecordOutputFile(doc.kind, err)
			if err != nil {
				res.Failed++
				logger.Error().Err(err).
					Str("controller", c.Name).
					Str("kind", doc.kind).
					Msg("Skipping output document")
				continue
			}
			res.Written = append(res.Written, doc.path)
			logger.Debug().Str("controller", c.Name).Str("path", doc.path).Msg("Wrote output document")
			w.upload(ctx, doc.path)
		}
	}
	return res
}

func (w *Writer) write(path, controller string, doc *etree.Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return monerrors.WrapFileError("write_output", controller, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return monerrors.WrapFileError("write_output", controller, err)
	}
	if _, err := doc.WriteTo(f); err != nil {
		f.Close()
		return monerrors.WrapFileError("write_output", controller, err)
	}
	if err := f.Close(); err != nil {
		return monerrors.WrapFileError("write_output", controller, err)
	}
	return nil
}

func (w *Writer) upload(ctx context.Context, path string) {
	if w.mirror == nil {
		return
	}
	rel, err := filepath.Rel(w.baseDir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	if err := w.mirror.Upload(ctx, filepath.ToSlash(rel), path); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("path", path).Msg("Failed to mirror output document")
	}
}

// InterfacesDocument builds the interface statistics document of c. An
// interface is included when it is up, has ingress or egress counters and its
// usage is not denied.
func (w *Writer) InterfacesDocument(c *models.Controller) *etree.Document {
	doc := newDocument()
	root := doc.CreateElement("interfaces")
	root.CreateAttr("controller", c.Name)

	for _, node := range c.Nodes() {
		var nodeEl *etree.Element
		for _, iface := range w.filter.Apply(node.Interfaces) {
			if !iface.IsUp() || !iface.HasStats() {
				continue
			}
			if nodeEl == nil {
				nodeEl = root.CreateElement("node")
				nodeEl.CreateAttr("id", node.ID)
			}
			el := nodeEl.CreateElement("interface")
			el.CreateAttr("id", models.SanitizeInterfaceID(iface.ID))
			el.CreateAttr("usage", iface.Usage)
			el.CreateAttr("descr", iface.Description())
			setAttrs(el.CreateElement(string(models.DirectionIngress)), iface.Ingress)
			setAttrs(el.CreateElement(string(models.DirectionEgress)), iface.Egress)
		}
	}

	doc.Indent(2)
	return doc
}

// CapacityDocument builds the policer CAM capacity document of c.
func CapacityDocument(c *models.Controller) *etree.Document {
	doc := newDocument()
	root := doc.CreateElement("capacity")
	root.CreateAttr("controller", c.Name)

	for _, entity := range c.Capacity() {
		el := root.CreateElement("entity")
		el.CreateAttr("class", entity.Class)
		el.CreateAttr("dn", NormalizeDN(entity.DN))
		attrs := make(map[string]string, len(entity.Attrs))
		for k, v := range entity.Attrs {
			if k == "dn" || k == "class" {
				continue
			}
			attrs[k] = v
		}
		setAttrs(el, attrs)
	}

	doc.Indent(2)
	return doc
}

// NormalizeDN keeps only the node-N component of a distinguished name.
func NormalizeDN(dn string) string {
	for _, part := range strings.Split(dn, "/") {
		if strings.HasPrefix(part, "node-") {
			return part
		}
	}
	return dn
}

func newDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	return doc
}

func setAttrs(el *etree.Element, attrs map[string]string) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		el.CreateAttr(k, attrs[k])
	}
}
