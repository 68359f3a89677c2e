package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sergioferragut/data-chat/internal/event"
	"github.com/sergioferragut/data-chat/internal/gateway"
	"github.com/sergioferragut/data-chat/internal/server"
	"github.com/sergioferragut/data-chat/internal/session"
	"github.com/sergioferragut/data-chat/internal/storage"
	"github.com/sergioferragut/data-chat/internal/ui"
)

type sseFrame struct {
	Event string
	Data  string
}

// readSSE collects every frame of a finished SSE response.
func readSSE(resp *http.Response) []sseFrame {
	defer resp.Body.Close()
	var (
		frames []sseFrame
		cur    sseFrame
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.Event != "":
			frames = append(frames, cur)
			cur = sseFrame{}
		}
	}
	return frames
}

func replay(ops []ui.Op) []string {
	rec := ui.NewRecorder()
	ctx := context.Background()
	handles := map[ui.Handle]ui.Handle{}
	for _, op := range ops {
		switch op.Kind {
		case ui.OpSend:
			h, _ := rec.Send(ctx, op.Content)
			handles[op.Handle] = h
		case ui.OpToken:
			rec.StreamToken(ctx, handles[op.Handle], op.Content)
		case ui.OpUpdate:
			rec.Update(ctx, handles[op.Handle], op.Content)
		}
	}
	return rec.Messages()
}

var _ = Describe("HTTP API", func() {
	var (
		prov        *provisioner
		dial        *dialer
		bus         *event.Bus
		sessions    *session.Manager
		transcripts *storage.Transcripts
		gw          *gateway.Gateway
		ts          *httptest.Server
	)

	BeforeEach(func() {
		prov = &provisioner{}
		dial = &dialer{}
		bus = event.NewBus()
		sessions = session.NewManager(prov, dial, builder{reply: []string{"There are ", "42 customers."}},
			session.WithPollInterval(10*time.Millisecond),
			session.WithMaxWait(time.Second),
			session.WithBus(bus),
		)
		transcripts = storage.NewTranscripts(storage.New(GinkgoT().TempDir()))
		gw = gateway.New(sessions, gateway.WithHistory(transcripts, 10), gateway.WithBus(bus))

		srv := server.New(&server.Config{CORSOrigins: []string{"*"}}, sessions, gw, transcripts, bus)
		ts = httptest.NewServer(srv.Handler())
	})

	AfterEach(func() {
		ts.Close()
		Expect(sessions.Shutdown(context.Background())).To(Succeed())
		bus.Close()
	})

	post := func(path, body string) *http.Response {
		resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	It("reports health", func() {
		resp, err := http.Get(ts.URL + "/health")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var health server.HealthResponse
		decode(resp, &health)
		Expect(health.Status).To(Equal("ok"))
		Expect(health.Sessions).To(Equal(0))
	})

	Describe("sessions", func() {
		It("creates a session and waits for it to be ready", func() {
			resp := post("/session?wait=true", `{"id":"abc"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var info map[string]any
			decode(resp, &info)
			Expect(info["id"]).To(Equal("abc"))
			Expect(info["state"]).To(Equal("ready"))
			Expect(info["sandbox"]).To(Equal("firebolt-mcp-abc"))

			resp, err := http.Get(ts.URL + "/session")
			Expect(err).NotTo(HaveOccurred())
			var list []map[string]any
			decode(resp, &list)
			Expect(list).To(HaveLen(1))
		})

		It("generates an id when none is given", func() {
			resp := post("/session", "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var info map[string]any
			decode(resp, &info)
			Expect(info["id"]).NotTo(BeEmpty())

			Eventually(func() string {
				got, _ := sessions.State(info["id"].(string))
				return got.State.String()
			}).Should(Equal("ready"))
		})

		It("rejects ids that are unsafe in container names", func() {
			resp := post("/session", `{"id":"../etc"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()

			resp, err := http.Get(ts.URL + "/session/bad.id")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("reports a failed build with its diagnosis", func() {
			dial.Fail(errors.New("MCP initialization timed out after 60s"))

			resp := post("/session?wait=true", `{"id":"slow"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))

			var body server.ErrorResponse
			decode(resp, &body)
			Expect(body.Error.Code).To(Equal(server.ErrCodeSessionError))
			Expect(body.Error.Details["kind"]).To(Equal("InitializationTimeout"))
		})

		It("returns 404 for unknown sessions", func() {
			resp, err := http.Get(ts.URL + "/session/missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("deletes a session and tears down its sandbox", func() {
			post("/session?wait=true", `{"id":"gone"}`).Body.Close()

			req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/session/gone", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()

			_, ok := sessions.State("gone")
			Expect(ok).To(BeFalse())
			Expect(prov.Teardowns()).To(ContainElement("firebolt-mcp-gone"))
		})
	})

	Describe("messages", func() {
		It("streams the answer and a done event", func() {
			resp := post("/session/chat1/message", `{"text":"How many customers?"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			frames := readSSE(resp)
			Expect(frames).NotTo(BeEmpty())
			last := frames[len(frames)-1]
			Expect(last.Event).To(Equal("done"))
			Expect(last.Data).To(Equal("{}"))

			var ops []ui.Op
			for _, f := range frames[:len(frames)-1] {
				Expect(f.Event).To(Equal("op"))
				var op ui.Op
				Expect(json.Unmarshal([]byte(f.Data), &op)).To(Succeed())
				ops = append(ops, op)
			}
			Expect(replay(ops)).To(Equal([]string{"There are 42 customers."}))
		})

		It("records the transcript", func() {
			readSSE(post("/session/chat2/message", `{"text":"How many customers?"}`))

			resp, err := http.Get(ts.URL + "/session/chat2/message")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var tr storage.Transcript
			decode(resp, &tr)
			Expect(tr.Turns).To(HaveLen(2))
			Expect(tr.Turns[0].Content).To(Equal("How many customers?"))
			Expect(tr.Turns[1].Content).To(Equal("There are 42 customers."))
		})

		It("rejects a message while another is being answered", func() {
			held, err := gw.TryBegin(context.Background(), "chat5")
			Expect(err).NotTo(HaveOccurred())

			resp := post("/session/chat5/message", `{"text":"How many customers?"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			var body server.ErrorResponse
			decode(resp, &body)
			Expect(body.Error.Code).To(Equal(server.ErrCodeBusy))

			held.Release()
			frames := readSSE(post("/session/chat5/message", `{"text":"How many customers?"}`))
			Expect(frames).NotTo(BeEmpty())
			Expect(frames[len(frames)-1].Event).To(Equal("done"))
		})

		It("requires text", func() {
			resp := post("/session/chat3/message", `{"text":"   "}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("ends with the failure kind when the session cannot be built", func() {
			dial.Fail(errors.New("ExpiredTokenException: The security token included in the request is expired"))

			frames := readSSE(post("/session/chat4/message", `{"text":"hi"}`))
			last := frames[len(frames)-1]
			Expect(last.Event).To(Equal("done"))

			var done server.DoneEvent
			Expect(json.Unmarshal([]byte(last.Data), &done)).To(Succeed())
			Expect(done.Kind).To(Equal("CredentialExpired"))

			var op ui.Op
			Expect(json.Unmarshal([]byte(frames[0].Data), &op)).To(Succeed())
			Expect(op.Content).To(ContainSubstring("AWS Session Token Expired"))
		})
	})

	Describe("websocket chat", func() {
		var ws *websocket.Conn

		BeforeEach(func() {
			url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/session/live/ws"
			var err error
			ws, _, err = websocket.DefaultDialer.Dial(url, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			ws.Close()
		})

		readOp := func() ui.Op {
			ws.SetReadDeadline(time.Now().Add(2 * time.Second))
			var op ui.Op
			Expect(ws.ReadJSON(&op)).To(Succeed())
			return op
		}

		It("greets, answers and closes the session on disconnect", func() {
			Expect(readOp().Content).To(Equal(gateway.WelcomeMessage))
			Expect(readOp().Content).To(Equal(gateway.ReadyMessage))

			Expect(ws.WriteJSON(server.ClientFrame{Type: "message", Text: "How many customers?"})).To(Succeed())

			var ops []ui.Op
			for {
				op := readOp()
				if op.Kind == server.OpDone {
					break
				}
				ops = append(ops, op)
			}
			Expect(replay(ops)).To(Equal([]string{"There are 42 customers."}))

			ws.Close()
			Eventually(func() bool {
				_, ok := sessions.State("live")
				return ok
			}).Should(BeFalse())
			Eventually(prov.Teardowns).Should(ContainElement("firebolt-mcp-live"))
		})

		It("rejects unknown frames", func() {
			readOp()
			readOp()

			Expect(ws.WriteJSON(server.ClientFrame{Type: "shout"})).To(Succeed())
			op := readOp()
			Expect(op.Kind).To(Equal(server.OpError))
			Expect(op.Content).To(ContainSubstring("shout"))
		})
	})

	It("streams lifecycle events", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/event?sessionID=watched", nil)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		lines := make(chan string, 64)
		go func() {
			defer GinkgoRecover()
			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
					lines <- data
				}
			}
			close(lines)
		}()
		Eventually(lines).Should(Receive(ContainSubstring("server.connected")))

		post("/session?wait=true", `{"id":"watched"}`).Body.Close()

		var seen bytes.Buffer
		Eventually(func() string {
			select {
			case l := <-lines:
				seen.WriteString(l)
			default:
			}
			return seen.String()
		}).Should(And(
			ContainSubstring(`"type":"session.created"`),
			ContainSubstring(`"to":"ready"`),
		))
	})
})
