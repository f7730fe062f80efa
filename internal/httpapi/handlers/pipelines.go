package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/pipeline-platform/internal/common"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
)

func (h *Handler) ListPipelines(c *gin.Context) {
	subj, _ := subjectFromContext(c)
	list, err := h.Registry.Listing(c.Request.Context(), subj)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{"pipelines": list})
}

// PipelinesByOutput lists visible aliases under each output kind, every kind
// included.
func (h *Handler) PipelinesByOutput(c *gin.Context) {
	subj, _ := subjectFromContext(c)
	groups, err := h.Registry.ByOutput(c.Request.Context(), subj)
	if err != nil {
		h.failErr(c, err)
		return
	}
	out := make(map[pipeline.Kind][]string, len(groups))
	for _, k := range pipeline.Kinds() {
		out[k] = []string{}
		for _, def := range groups[k] {
			out[k] = append(out[k], def.Descriptor.Alias)
		}
	}
	common.OK(c, gin.H{"kinds": out})
}

func (h *Handler) CreatePipeline(c *gin.Context) {
	subj, _ := subjectFromContext(c)
	var req pipeline.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	p, err := h.Manager.Create(c.Request.Context(), subj, req)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, p.Record())
}

// PatchPipelinesAccess applies a batch of ownership and rights changes.
func (h *Handler) PatchPipelinesAccess(c *gin.Context) {
	subj, _ := subjectFromContext(c)
	var req []pipeline.AccessChange
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Manager.PatchAccess(c.Request.Context(), subj, req); err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, nil)
}

func (h *Handler) GetPipeline(c *gin.Context) {
	subj, _ := subjectFromContext(c)
	p, err := h.Manager.Get(c.Request.Context(), subj, c.Param("alias"))
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, p.Record())
}

func (h *Handler) PatchPipeline(c *gin.Context) {
	subj, _ := subjectFromContext(c)
	var req pipeline.Patch
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	p, err := h.Manager.Patch(c.Request.Context(), subj, c.Param("alias"), req)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, p.Record())
}

func (h *Handler) DeletePipeline(c *gin.Context) {
	subj, _ := subjectFromContext(c)
	if err := h.Manager.Delete(c.Request.Context(), subj, c.Param("alias")); err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, nil)
}

func factoryJSON(alias, label, description string, schema *pipeline.Schema) gin.H {
	return gin.H{
		"alias":       alias,
		"label":       label,
		"description": description,
		"schema":      schema.JSONSchema(),
		"uischema":    schema.UISchema(),
	}
}

func (h *Handler) ListFactories(c *gin.Context) {
	entries, err := h.Registry.Factories(c.Request.Context())
	if err != nil {
		h.failErr(c, err)
		return
	}
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, factoryJSON(e.Alias, e.Label, e.Description, e.Factory.Schema()))
	}
	common.OK(c, gin.H{"factories": out})
}

// GetFactory returns one creation form; "common" is the form shared by all
// factories.
func (h *Handler) GetFactory(c *gin.Context) {
	alias := c.Param("alias")
	if alias == "common" {
		common.OK(c, factoryJSON("common", "Pipeline", "", pipeline.CommonSchema()))
		return
	}
	e, err := h.Registry.Factory(c.Request.Context(), alias)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, factoryJSON(e.Alias, e.Label, e.Description, e.Factory.Schema()))
}
