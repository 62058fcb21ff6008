package monitoring

import (
	"github.com/rcourtman/fabricpulse/internal/models"
	"github.com/rcourtman/fabricpulse/pkg/fabric"
)

func toCapacity(objs []fabric.Object) []models.CapacityEntity {
	out := make([]models.CapacityEntity, 0, len(objs))
	for _, o := range objs {
		out = append(out, models.CapacityEntity{Class: o.Class, DN: o.DN(), Attrs: o.Attrs})
	}
	return out
}

func toFaults(objs []fabric.Object) []models.Fault {
	out := make([]models.Fault, 0, len(objs))
	for _, o := range objs {
		out = append(out, models.Fault{Attrs: o.Attrs})
	}
	return out
}

func toNode(o fabric.Object) *models.FabricNode {
	return &models.FabricNode{
		ID:    o.Attr("id"),
		DN:    o.DN(),
		Role:  o.Attr("role"),
		State: o.Attr("fabricSt"),
	}
}

func toInterfaces(objs []fabric.Object) []*models.Interface {
	out := make([]*models.Interface, 0, len(objs))
	for _, o := range objs {
		out = append(out, &models.Interface{
			ID:         o.Attr("id"),
			Usage:      o.Attr("usage"),
			AdminState: o.Attr("adminSt"),
			Descr:      o.Attr("descr"),
		})
	}
	return out
}
