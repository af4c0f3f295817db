package integration

import (
	"net/http"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/facet-query-server/internal/api"
	"github.com/stacklok/facet-query-server/test-integration/facets-api/helpers"
)

type queryBody map[string]any

var allVersions = []any{
	"3.0.0", "2.3.0", "2.1.0", "2.0.1", "1.10.0", "1.4.2", "1.2.0", "1.0.0", "1.0.0-rc.1", "0.9.0",
}

var _ = Describe("Facet Query Integration", Label("file"), func() {
	var (
		tempDir      string
		serverHelper *helpers.ServerTestHelper
	)

	startServer := func(cacheType string) {
		dataDir := filepath.Join(tempDir, "data")
		Expect(createDir(dataDir)).To(Succeed())
		helpers.WriteFundsData(dataDir)
		configFile := helpers.WriteConfigYAML(tempDir, dataDir, cacheType)

		serverHelper = helpers.NewServerTestHelper(ctx, configFile)
		Expect(serverHelper.StartServer()).To(Succeed())
		serverHelper.WaitForServerReady(10 * time.Second)
	}

	BeforeEach(func() {
		tempDir = createTempDir("facets-test-")
	})

	AfterEach(func() {
		if serverHelper != nil {
			Expect(serverHelper.StopServer()).To(Succeed())
			serverHelper = nil
		}
		cleanupTempDir(tempDir)
	})

	Context("Service endpoints", func() {
		BeforeEach(func() {
			startServer("")
		})

		It("should report health and readiness", func() {
			var health api.HealthResponse
			Expect(serverHelper.Get("/health", &health)).To(Equal(http.StatusOK))
			Expect(health.Status).To(Equal("healthy"))

			var ready api.ReadinessResponse
			Expect(serverHelper.Get("/readiness", &ready)).To(Equal(http.StatusOK))
		})

		It("should list and describe collections", func() {
			var list struct {
				Collections []string `json:"collections"`
			}
			Expect(serverHelper.Get("/v1/collections", &list)).To(Equal(http.StatusOK))
			Expect(list.Collections).To(Equal([]string{"funds"}))

			var described struct {
				Name    string `json:"name"`
				Filters []struct {
					Key       string `json:"key"`
					DependsOn string `json:"dependsOn"`
				} `json:"filters"`
			}
			Expect(serverHelper.Get("/v1/collections/funds/filters", &described)).To(Equal(http.StatusOK))
			Expect(described.Name).To(Equal("funds"))
			Expect(described.Filters).To(HaveLen(5))
			Expect(described.Filters[1].Key).To(Equal("sub_category"))
			Expect(described.Filters[1].DependsOn).To(Equal("category"))
		})
	})

	Context("Querying without filters", func() {
		BeforeEach(func() {
			startServer("")
		})

		It("should return the first page with every facet", func() {
			resp, status := serverHelper.Query("funds", queryBody{})
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Data.TotalCount).To(Equal(int64(10)))
			Expect(resp.Data.Partial).To(BeFalse())

			Expect(helpers.ColumnValues(resp, "fund_name")).To(Equal([]any{
				"Alpha Growth", "Alpha Midcap Opportunities", "Balanced Advantage", "Beta Income", "Bluechip Index",
			}))

			facets := resp.Data.Facets
			Expect(helpers.OptionValues(facets["category"])).To(Equal([]any{"commodity", "debt", "equity", "hybrid"}))
			Expect(helpers.OptionLabels(facets["category"])).To(Equal([]string{"Commodity", "Debt", "Equity", "Hybrid"}))
			Expect(helpers.OptionValues(facets["rating"])).To(Equal([]any{5.0, 4.0, 3.0, 2.0}))
			Expect(helpers.OptionLabels(facets["rating"])).To(Equal([]string{"5 stars", "4 stars", "3 stars", "2 stars"}))
			Expect(helpers.OptionValues(facets["version"])).To(Equal(allVersions))
			Expect(facets["launched_after"]).To(HaveLen(10))
		})

		It("should leave a dependent facet empty until its prerequisite is set", func() {
			resp, status := serverHelper.Query("funds", queryBody{})
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Data.Facets).To(HaveKey("sub_category"))
			Expect(resp.Data.Facets["sub_category"]).To(BeEmpty())
		})

		It("should only resolve the requested filter keys", func() {
			resp, status := serverHelper.Query("funds", queryBody{"filterKeys": []string{"category"}})
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Data.Facets).To(HaveLen(1))
			Expect(resp.Data.Facets).To(HaveKey("category"))
		})
	})

	Context("Cascading filters", func() {
		BeforeEach(func() {
			startServer("")
		})

		It("should narrow rows and every other facet to the selection", func() {
			resp, status := serverHelper.Query("funds", queryBody{
				"filters": queryBody{"category": []string{"equity"}},
			})
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Data.TotalCount).To(Equal(int64(4)))

			facets := resp.Data.Facets
			// a dimension ignores its own selection
			Expect(helpers.OptionValues(facets["category"])).To(Equal([]any{"commodity", "debt", "equity", "hybrid"}))
			Expect(helpers.OptionValues(facets["sub_category"])).To(Equal([]any{"Large Cap", "Mid Cap", "Small Cap"}))
			Expect(helpers.OptionValues(facets["rating"])).To(Equal([]any{5.0, 4.0, 3.0}))
			Expect(helpers.OptionValues(facets["version"])).To(Equal([]any{"3.0.0", "2.1.0", "1.4.2", "1.0.0-rc.1"}))
		})

		It("should compute each facet under every other selection", func() {
			resp, status := serverHelper.Query("funds", queryBody{
				"filters": queryBody{
					"category": []string{"equity"},
					"rating":   []int{4},
				},
			})
			Expect(status).To(Equal(http.StatusOK))
			Expect(helpers.ColumnValues(resp, "fund_name")).To(Equal([]any{"Alpha Midcap Opportunities", "Bluechip Index"}))

			facets := resp.Data.Facets
			Expect(helpers.OptionValues(facets["category"])).To(Equal([]any{"debt", "equity"}))
			Expect(helpers.OptionValues(facets["rating"])).To(Equal([]any{5.0, 4.0, 3.0}))
			Expect(helpers.OptionValues(facets["sub_category"])).To(Equal([]any{"Large Cap", "Mid Cap"}))
		})

		It("should filter on indexed columns that are not projected", func() {
			resp, status := serverHelper.Query("funds", queryBody{
				"filters":    queryBody{"launched_after": "2019-01-01"},
				"pagination": queryBody{"offset": 0, "limit": 50},
			})
			Expect(status).To(Equal(http.StatusOK))
			Expect(helpers.ColumnValues(resp, "fund_name")).To(ConsistOf(
				"Equity Savings Plus", "Gold Tracker", "Liquid Reserve", "Smallcap Discovery",
			))
			Expect(resp.Data.Rows[0]).NotTo(HaveKey("launched_at"))
		})

		It("should treat an empty selection as unconstrained", func() {
			resp, status := serverHelper.Query("funds", queryBody{
				"filters": queryBody{"category": []string{}},
			})
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Data.TotalCount).To(Equal(int64(10)))
			Expect(resp.Data.Facets["sub_category"]).To(BeEmpty())
		})
	})

	Context("Search, sort and pagination", func() {
		BeforeEach(func() {
			startServer("")
		})

		It("should search the configured columns case-insensitively", func() {
			resp, status := serverHelper.Query("funds", queryBody{"search": "ALPHA"})
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Data.TotalCount).To(Equal(int64(2)))
			Expect(helpers.OptionValues(resp.Data.Facets["category"])).To(Equal([]any{"equity"}))
		})

		It("should sort nulls last", func() {
			resp, status := serverHelper.Query("funds", queryBody{
				"sort":       queryBody{"column": "rating", "direction": "desc"},
				"pagination": queryBody{"offset": 0, "limit": 50},
			})
			Expect(status).To(Equal(http.StatusOK))
			ratings := helpers.ColumnValues(resp, "rating")
			Expect(ratings).To(HaveLen(10))
			Expect(ratings[0]).To(Equal(5.0))
			Expect(ratings[9]).To(BeNil())
		})

		It("should fall back to the default sort and clamp the page size", func() {
			resp, status := serverHelper.Query("funds", queryBody{
				"sort":       queryBody{"column": "expense_ratio", "direction": "desc"},
				"pagination": queryBody{"offset": 0, "limit": 500},
			})
			Expect(status).To(Equal(http.StatusOK))
			names := helpers.ColumnValues(resp, "fund_name")
			Expect(names).To(HaveLen(10))
			Expect(names[0]).To(Equal("Alpha Growth"))
		})

		It("should page through the rows keeping the total count", func() {
			resp, status := serverHelper.Query("funds", queryBody{
				"pagination": queryBody{"offset": 8, "limit": 5},
			})
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Data.TotalCount).To(Equal(int64(10)))
			Expect(helpers.ColumnValues(resp, "fund_name")).To(Equal([]any{"Liquid Reserve", "Smallcap Discovery"}))
		})
	})

	Context("Rejected queries", func() {
		BeforeEach(func() {
			startServer("")
		})

		DescribeTable("should answer with an error envelope",
			func(collection, body string, wantStatus int) {
				resp, status := serverHelper.QueryRaw(collection, []byte(body))
				Expect(status).To(Equal(wantStatus))
				Expect(resp.Success).To(BeFalse())
				Expect(resp.Error).NotTo(BeEmpty())
				Expect(resp.Data).To(BeNil())
			},
			Entry("unknown collection", "bonds", `{}`, http.StatusNotFound),
			Entry("unknown filter key", "funds", `{"filters":{"manager":["Smith"]}}`, http.StatusBadRequest),
			Entry("unknown filter key request", "funds", `{"filterKeys":["manager"]}`, http.StatusBadRequest),
			Entry("negative offset", "funds", `{"pagination":{"offset":-1,"limit":5}}`, http.StatusBadRequest),
			Entry("unprojected search column", "funds", `{"search":"x","searchColumns":["owner_id"]}`, http.StatusBadRequest),
			Entry("malformed body", "funds", `{"filters":`, http.StatusBadRequest),
			Entry("unknown body field", "funds", `{"where":"1=1"}`, http.StatusBadRequest),
		)
	})

	Context("With the memory query cache", func() {
		BeforeEach(func() {
			startServer("memory")
		})

		It("should serve repeated queries identically", func() {
			body := queryBody{"filters": queryBody{"category": []string{"debt"}}}

			first, status := serverHelper.Query("funds", body)
			Expect(status).To(Equal(http.StatusOK))
			second, status := serverHelper.Query("funds", body)
			Expect(status).To(Equal(http.StatusOK))

			Expect(second.Data.TotalCount).To(Equal(first.Data.TotalCount))
			Expect(second.Data.Rows).To(Equal(first.Data.Rows))
			Expect(second.Data.Facets).To(Equal(first.Data.Facets))
			Expect(helpers.OptionValues(second.Data.Facets["sub_category"])).To(Equal([]any{
				"Corporate Bond", "Gilt", "Liquid",
			}))
		})
	})
})
