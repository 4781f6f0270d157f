package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/finance-bot/internal/bot"
)

// mockBot records the events it receives
type mockBot struct {
	texts     []string
	photos    []bot.Photo
	callbacks []string
	userIDs   []int64
}

func (m *mockBot) OnText(ctx context.Context, userID int64, text string) bot.Reply {
	m.userIDs = append(m.userIDs, userID)
	m.texts = append(m.texts, text)
	return bot.Reply{Text: "text: " + text}
}

func (m *mockBot) OnPhoto(ctx context.Context, userID int64, photo bot.Photo) bot.Reply {
	m.userIDs = append(m.userIDs, userID)
	m.photos = append(m.photos, photo)
	return bot.Reply{Text: "photo", Options: []bot.Option{{ID: bot.OptionTotal, Label: "Total"}}}
}

func (m *mockBot) OnCallback(ctx context.Context, userID int64, option string) bot.Reply {
	m.userIDs = append(m.userIDs, userID)
	m.callbacks = append(m.callbacks, option)
	return bot.Reply{Text: "callback: " + option}
}

func postJSON(url string, body interface{}) *http.Response {
	b, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func decodeReply(resp *http.Response) bot.Reply {
	defer resp.Body.Close()
	var reply bot.Reply
	Expect(json.NewDecoder(resp.Body).Decode(&reply)).To(Succeed())
	return reply
}

func photoRequest(url, filename, partType, caption string, data []byte) *http.Request {
	var b bytes.Buffer
	writer := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if partType != "" {
		h.Set("Content-Type", partType)
	}
	part, err := writer.CreatePart(h)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())

	if caption != "" {
		Expect(writer.WriteField("caption", caption)).To(Succeed())
	}
	Expect(writer.Close()).To(Succeed())

	req, err := http.NewRequest(http.MethodPost, url, &b)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

var _ = Describe("Server", func() {
	var (
		b        *mockBot
		auth     BasicAuth
		server   *Server
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		b = &mockBot{}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		server = NewServer(b, auth)
		ghServer = ghttp.NewServer()
		for i := 0; i < 10; i++ {
			ghServer.AppendHandlers(server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghServer.Close()
	})

	Describe("GET /healthz", func() {
		It("reports ok", func() {
			resp, err := http.Get(ghServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("GET /metrics", func() {
		It("exposes the bot's collectors", func() {
			resp, err := http.Get(ghServer.URL() + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("finance_bot_"))
		})
	})

	Describe("POST /api/users/{userID}/messages", func() {
		It("delivers the text to the bot", func() {
			resp := postJSON(ghServer.URL()+"/api/users/42/messages", map[string]string{"text": "Makan 10rb"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeReply(resp).Text).To(Equal("text: Makan 10rb"))
			Expect(b.userIDs).To(Equal([]int64{42}))
		})

		It("rejects a non-numeric user id", func() {
			resp := postJSON(ghServer.URL()+"/api/users/abc/messages", map[string]string{"text": "x"})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(b.texts).To(BeEmpty())
		})

		It("rejects empty text", func() {
			resp := postJSON(ghServer.URL()+"/api/users/42/messages", map[string]string{"text": "  "})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects malformed JSON", func() {
			resp, err := http.Post(ghServer.URL()+"/api/users/42/messages", "application/json", strings.NewReader("{"))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/users/{userID}/callbacks", func() {
		It("delivers the option to the bot", func() {
			resp := postJSON(ghServer.URL()+"/api/users/7/callbacks", map[string]string{"option": bot.OptionConfirm})
			Expect(decodeReply(resp).Text).To(Equal("callback: " + bot.OptionConfirm))
			Expect(b.callbacks).To(Equal([]string{bot.OptionConfirm}))
		})

		It("requires an option", func() {
			resp := postJSON(ghServer.URL()+"/api/users/7/callbacks", map[string]string{})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/users/{userID}/photos", func() {
		It("delivers the photo, its type and caption", func() {
			req := photoRequest(ghServer.URL()+"/api/users/42/photos", "struk.jpg", "image/jpeg", "belanja 50rb", []byte("jpeg"))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())

			reply := decodeReply(resp)
			Expect(reply.Options).To(HaveLen(1))
			Expect(b.photos).To(HaveLen(1))
			Expect(b.photos[0].Data).To(Equal([]byte("jpeg")))
			Expect(b.photos[0].ContentType).To(Equal("image/jpeg"))
			Expect(b.photos[0].Caption).To(Equal("belanja 50rb"))
		})

		It("guesses the type from the file name", func() {
			req := photoRequest(ghServer.URL()+"/api/users/42/photos", "IMG_0001.HEIC", "application/octet-stream", "", []byte("heic"))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(b.photos[0].ContentType).To(Equal("image/heic"))
		})

		It("requires a file", func() {
			var body bytes.Buffer
			writer := multipart.NewWriter(&body)
			Expect(writer.WriteField("caption", "x")).To(Succeed())
			Expect(writer.Close()).To(Succeed())

			resp, err := http.Post(ghServer.URL()+"/api/users/42/photos", writer.FormDataContentType(), &body)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	When("basic auth is configured", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			resp := postJSON(ghServer.URL()+"/api/users/42/messages", map[string]string{"text": "x"})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(b.texts).To(BeEmpty())
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest(http.MethodPost, ghServer.URL()+"/api/users/42/messages", strings.NewReader(`{"text":"x"}`))
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("leaves the health check open", func() {
			resp, err := http.Get(ghServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("OPTIONS preflight", func() {
		It("answers with CORS headers", func() {
			req, err := http.NewRequest(http.MethodOptions, ghServer.URL()+"/api/users/42/messages", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})
	})
})
