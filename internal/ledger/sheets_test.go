package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"google.golang.org/api/option"
)

var _ = Describe("SheetsStore", func() {
	var (
		ctx      context.Context
		ghServer *ghttp.Server
		store    *SheetsStore
		rows     [][]interface{}
		appended []map[string]interface{}
		deleted  []map[string]interface{}
	)

	BeforeEach(func() {
		ctx = context.Background()
		ghServer = ghttp.NewServer()
		appended = nil
		deleted = nil
		rows = [][]interface{}{
			{"Date", "Amount", "Category", "Note", "User ID", "Created At", "Source", "ID"},
			{"2024-01-15", -35000.0, "makanan", "Makan siang 35rb", 42.0, "2024-01-15 12:00:00", "manual", "t1"},
			{"2024-01-15", 5000000.0, "gaji", "Gaji masuk 5jt", 42.0, "2024-01-15 13:00:00", "manual", "t2"},
			{"2024-01-16", -20000.0, "transportasi", "Ojek 20rb", 7.0, "2024-01-16 08:00:00", "manual", "t3"},
		}

		ghServer.RouteToHandler("POST", regexp.MustCompile(`^/v4/spreadsheets/sheet-id/values/.+:append$`),
			func(w http.ResponseWriter, r *http.Request) {
				var body map[string]interface{}
				Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				appended = append(appended, body)
				Expect(r.URL.Query().Get("valueInputOption")).To(Equal("RAW"))
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{"spreadsheetId": "sheet-id"})(w, r)
			})
		ghServer.RouteToHandler("GET", regexp.MustCompile(`^/v4/spreadsheets/sheet-id/values/.+$`),
			func(w http.ResponseWriter, r *http.Request) {
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
					"range":          "Transactions!A1:H4",
					"majorDimension": "ROWS",
					"values":         rows,
				})(w, r)
			})
		ghServer.RouteToHandler("GET", "/v4/spreadsheets/sheet-id",
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
				"spreadsheetId": "sheet-id",
				"properties":    map[string]interface{}{"title": "Keuangan"},
				"sheets": []interface{}{
					map[string]interface{}{"properties": map[string]interface{}{"sheetId": 7, "title": "Transactions"}},
				},
			}))
		ghServer.RouteToHandler("POST", "/v4/spreadsheets/sheet-id:batchUpdate",
			func(w http.ResponseWriter, r *http.Request) {
				var body map[string]interface{}
				Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				deleted = append(deleted, body)
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{"spreadsheetId": "sheet-id"})(w, r)
			})

		var err error
		store, err = NewSheetsStore(ctx, "sheet-id", "Transactions",
			option.WithEndpoint(ghServer.URL()+"/"),
			option.WithoutAuthentication(),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		ghServer.Close()
	})

	Describe("Append", func() {
		It("writes one row with a negative amount for expenses", func() {
			t := newTransaction("new", 42, time.Date(2024, 1, 17, 0, 0, 0, 0, time.Local), 15000)
			Expect(store.Append(ctx, t)).To(Succeed())

			Expect(appended).To(HaveLen(1))
			values := appended[0]["values"].([]interface{})
			row := values[0].([]interface{})
			Expect(row[0]).To(Equal("2024-01-17"))
			Expect(row[1]).To(BeNumerically("==", -15000))
			Expect(row[2]).To(Equal("makanan"))
			Expect(row[4]).To(BeNumerically("==", 42))
			Expect(row[7]).To(Equal("new"))
		})
	})

	Describe("QueryRange", func() {
		It("parses rows for the user and skips the header", func() {
			from := time.Date(2024, 1, 15, 0, 0, 0, 0, time.Local)
			txs, err := store.QueryRange(ctx, 42, from, from.AddDate(0, 0, 2))
			Expect(err).NotTo(HaveOccurred())
			Expect(txs).To(HaveLen(2))

			Expect(txs[0].Direction).To(Equal(Expense))
			Expect(txs[0].Amount).To(Equal(int64(35000)))
			Expect(txs[1].Direction).To(Equal(Income))
			Expect(txs[1].Category).To(Equal("gaji"))
		})
	})

	Describe("DeleteLast", func() {
		When("the user has rows", func() {
			It("deletes the user's bottom-most row", func() {
				removed, err := store.DeleteLast(ctx, 42)
				Expect(err).NotTo(HaveOccurred())
				Expect(removed.ID).To(Equal("t2"))

				Expect(deleted).To(HaveLen(1))
				requests := deleted[0]["requests"].([]interface{})
				dim := requests[0].(map[string]interface{})["deleteDimension"].(map[string]interface{})["range"].(map[string]interface{})
				Expect(dim["sheetId"]).To(BeNumerically("==", 7))
				Expect(dim["startIndex"]).To(BeNumerically("==", 2))
				Expect(dim["endIndex"]).To(BeNumerically("==", 3))
			})
		})

		When("the user has no rows", func() {
			It("returns ErrNotFound", func() {
				_, err := store.DeleteLast(ctx, 1000)
				Expect(err).To(MatchError(ErrNotFound))
				Expect(deleted).To(BeEmpty())
			})
		})
	})

	Describe("Ping", func() {
		It("succeeds when the spreadsheet is readable", func() {
			Expect(store.Ping(ctx)).To(Succeed())
		})
	})

	Describe("Link", func() {
		It("points at the spreadsheet", func() {
			Expect(store.Link()).To(Equal("https://docs.google.com/spreadsheets/d/sheet-id"))
		})
	})
})
