package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jobboard.app/atsbridge/internal/http/middleware"
)

func TestMiddleware(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Middleware Suite")
}

var _ = Describe("Middleware", func() {
	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
	})

	It("turns panics into 500s", func() {
		r := gin.New()
		r.Use(middleware.Recovery(), middleware.Logger())
		r.GET("/boom", func(*gin.Context) { panic("kaboom") })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})

	It("disables admin routes when no key is configured", func() {
		r := gin.New()
		r.GET("/admin", middleware.RequireAdminKey(""), func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set(middleware.AdminKeyHeader, "")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("rejects a wrong admin key", func() {
		r := gin.New()
		r.GET("/admin", middleware.RequireAdminKey("k"), func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set(middleware.AdminKeyHeader, "nope")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})
})
