package api

import (
	"net/http"

	"github.com/matterverse/matterverse-core/internal/datamodel"
)

// clusterSummary is the wire form of one dictionary cluster.
type clusterSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Attributes []string `json:"attributes"`
	Commands   []string `json:"commands"`
}

// handleDataModelClusters lists every cluster the dictionary knows.
func (s *Server) handleDataModelClusters(w http.ResponseWriter, _ *http.Request) {
	clusters := s.dict.Clusters()
	summaries := make([]clusterSummary, 0, len(clusters))
	for i := range clusters {
		c := &clusters[i]
		summary := clusterSummary{
			ID:         c.ID,
			Name:       c.Name,
			Attributes: make([]string, 0, len(c.Attributes)),
			Commands:   make([]string, 0, len(c.Commands)),
		}
		for j := range c.Attributes {
			summary.Attributes = append(summary.Attributes, c.Attributes[j].WireName())
		}
		for j := range c.Commands {
			summary.Commands = append(summary.Commands, datamodel.KebabCase(c.Commands[j].Name))
		}
		summaries = append(summaries, summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": summaries})
}

// deviceTypeSummary is the wire form of one dictionary device type.
type deviceTypeSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Clusters []string `json:"clusters"`
}

// handleDataModelDeviceTypes lists every device type the dictionary knows.
func (s *Server) handleDataModelDeviceTypes(w http.ResponseWriter, _ *http.Request) {
	types := s.dict.DeviceTypes()
	summaries := make([]deviceTypeSummary, 0, len(types))
	for _, dt := range types {
		summaries = append(summaries, deviceTypeSummary{
			ID:       dt.ID,
			Name:     dt.Name,
			Clusters: dt.Clusters,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_types": summaries})
}
