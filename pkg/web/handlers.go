package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nitkach/mares/pkg/errmodel"
	"github.com/nitkach/mares/pkg/store"
)

type mareForm struct {
	Name       string `form:"name"`
	Breed      string `form:"breed" binding:"required"`
	ModifiedAt string `form:"modified_at"`
}

func (s *Server) bindForm(c *gin.Context) (mareForm, store.Breed, error) {
	var f mareForm
	if err := c.ShouldBind(&f); err != nil {
		return f, 0, errmodel.Validation("bad_form", "The form is incomplete: a breed must be chosen.", nil)
	}
	breed, err := store.ParseBreed(f.Breed)
	if err != nil {
		return f, 0, err
	}
	return f, breed, nil
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.String(http.StatusServiceUnavailable, "unavailable")
		return
	}
	c.String(http.StatusOK, "ok")
}

func (s *Server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Title":    "Home",
		"Breeds":   store.Breeds,
		"Selected": store.BreedEarth,
	})
}

// listPage renders one cursor window. Navigation state lives entirely in the
// links: the first and last ids of the rendered page.
func (s *Server) listPage(c *gin.Context) {
	ctx := c.Request.Context()
	dir, err := store.ParseDirection(c.Query("dir"))
	if err != nil {
		s.fail(c, err)
		return
	}
	cursor := c.Query("cursor")
	page, err := s.store.Page(ctx, cursor, dir)
	if err != nil {
		s.fail(c, err)
		return
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}

	var prev, next string
	if len(page) > 0 {
		first, last := page[0].ID, page[len(page)-1].ID
		if dir != store.First && !(dir == store.Previous && len(page) < store.PageSize) {
			prev = first
		}
		if len(page) == store.PageSize || dir == store.Previous {
			next = last
		}
	} else if dir == store.Next && cursor != "" {
		// Walked past the end: the cursor still leads back.
		prev = cursor
	}
	c.HTML(http.StatusOK, "mares.html", gin.H{
		"Title":      "Mares",
		"Mares":      page,
		"Total":      total,
		"PrevCursor": prev,
		"NextCursor": next,
		"Breeds":     store.Breeds,
		"Selected":   store.BreedEarth,
	})
}

func (s *Server) listAll(c *gin.Context) {
	all, err := s.store.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.HTML(http.StatusOK, "mares_all.html", gin.H{"Title": "All mares", "Mares": all})
}

func (s *Server) create(c *gin.Context) {
	f, breed, err := s.bindForm(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if _, err := s.store.Create(c.Request.Context(), f.Name, breed); err != nil {
		s.fail(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/mares")
}

func (s *Server) view(c *gin.Context) {
	id := c.Param("id")
	rec, ok, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		s.fail(c, missing(id))
		return
	}
	c.HTML(http.StatusOK, "mare.html", gin.H{
		"Title":    rec.Name,
		"Mare":     rec,
		"Breeds":   store.Breeds,
		"Selected": rec.Breed,
	})
}

func (s *Server) edit(c *gin.Context) {
	id := c.Param("id")
	f, breed, err := s.bindForm(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	token, err := time.Parse(time.RFC3339Nano, f.ModifiedAt)
	if err != nil {
		s.fail(c, errmodel.Validation("bad_token", "The form is missing the record version; reload the page and try again.", nil))
		return
	}

	res, err := s.store.Update(c.Request.Context(), id, f.Name, breed, token)
	if err != nil {
		s.fail(c, err)
		return
	}
	switch res {
	case store.SetSuccess:
		c.Redirect(http.StatusSeeOther, "/mares/"+id)
	case store.SetModifiedAtConflict:
		s.fail(c, errmodel.Conflict("modified_at_conflict",
			"Unfortunately, it is impossible to save, since the mare's record has already changed.",
			map[string]any{"id": id}))
	case store.SetRecordNotFound:
		s.fail(c, errmodel.NotFound("record_not_found",
			"Unfortunately, it is impossible to save, since the mare's record is not found.",
			map[string]any{"id": id}))
	}
}

func (s *Server) remove(c *gin.Context) {
	id := c.Param("id")
	_, ok, err := s.store.Remove(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		s.fail(c, missing(id))
		return
	}
	c.Redirect(http.StatusSeeOther, "/mares")
}

func (s *Server) image(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	rec, ok, err := s.store.Get(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		s.fail(c, missing(id))
		return
	}
	if s.images == nil {
		s.fail(c, errmodel.Upstream("image_lookup_disabled", "Image lookup is not configured.", nil, nil))
		return
	}
	img, found, err := s.images.Find(ctx, rec.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !found {
		s.fail(c, errmodel.Upstream("image_not_found", fmt.Sprintf("Cannot find images by %q name.", rec.Name), nil, nil))
		return
	}
	c.HTML(http.StatusOK, "image.html", gin.H{
		"Title": rec.Name,
		"ID":    rec.ID,
		"Name":  rec.Name,
		"Image": img,
	})
}

func missing(id string) error {
	return errmodel.NotFound("record_not_found", fmt.Sprintf("Cannot find record with %s id.", id), map[string]any{"id": id})
}
