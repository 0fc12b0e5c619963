package statusapi

import (
	"net/http"
	"time"

	"github.com/danmuck/boardlink/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type policyView struct {
	AllowReconnect bool `json:"allow_reconnect"`
	Reconnecting   bool `json:"reconnecting"`
	NeverReconnect bool `json:"never_reconnect"`
}

type infoView struct {
	SessionID         int       `json:"session_id"`
	ChannelID         int       `json:"channel_id"`
	FeatureVersion    int       `json:"feature_version"`
	ServerIP          string    `json:"server_ip"`
	BufferSize        int       `json:"buffer_size"`
	InitialPopulation int       `json:"initial_population"`
	HasPassword       bool      `json:"has_password"`
	Obfuscation       bool      `json:"obfuscation"`
	Sequence          bool      `json:"sequence"`
	Lock              bool      `json:"lock"`
	MoveTimes         bool      `json:"move_times"`
	ClockOffsetMS     int64     `json:"clock_offset_ms"`
	ConnectedAt       time.Time `json:"connected_at"`
}

type sessionView struct {
	Client       string     `json:"client"`
	State        string     `json:"state"`
	Connected    bool       `json:"connected"`
	Policy       policyView `json:"policy"`
	Sequence     int64      `json:"sequence"`
	Summary      string     `json:"summary"`
	RawStats     string     `json:"raw_stats"`
	LocalAddress string     `json:"local_address"`
	Error        string     `json:"error,omitempty"`
	Info         *infoView  `json:"info,omitempty"`
}

type echoView struct {
	Tag  string `json:"tag"`
	Seq  int64  `json:"seq"`
	Body string `json:"body"`
}

type pingView struct {
	Count          int64  `json:"count"`
	Last           int64  `json:"last_ms"`
	Min            int64  `json:"min_ms"`
	Max            int64  `json:"max_ms"`
	Average        int64  `json:"avg_ms"`
	ExtraInputSeen bool   `json:"extra_input_seen"`
	DeficitSeen    bool   `json:"deficit_seen"`
	Summary        string `json:"summary"`
}

type checkRequest struct {
	UpTo *int64 `json:"up_to"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/", s.requireToken())
	api.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.sessionView())
	})
	api.GET("/ping", func(c *gin.Context) {
		p := s.manager.PingStats()
		c.JSON(http.StatusOK, pingView{
			Count:          p.Count,
			Last:           p.Last,
			Min:            p.Min,
			Max:            p.Max,
			Average:        p.Average,
			ExtraInputSeen: p.ExtraInputSeen,
			DeficitSeen:    p.DeficitSeen,
			Summary:        s.manager.PingStatsSummary(),
		})
	})
	api.GET("/echoes", func(c *gin.Context) {
		e := s.manager.Echoes()
		c.JSON(http.StatusOK, gin.H{
			"pending":    echoViews(e.Pending),
			"repeatable": echoViews(e.Repeatable),
			"unexpected": echoViews(e.Unexpected),
		})
	})
	// POST /echoes/check runs the missing and extra echo checks. Without
	// up_to every command sent so far is considered overdue.
	api.POST("/echoes/check", func(c *gin.Context) {
		var req checkRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		upTo := s.manager.Sequence() - 1
		if req.UpTo != nil {
			upTo = *req.UpTo
		}
		s.manager.CheckMissing(upTo)
		s.manager.CheckExtra()
		c.JSON(http.StatusAccepted, gin.H{"status": "checked", "up_to": upTo})
	})
	api.GET("/log", func(c *gin.Context) {
		entries := s.manager.Events()
		out := make([]gin.H, 0, len(entries))
		for _, e := range entries {
			out = append(out, gin.H{"seq": e.Seq, "at": e.At, "text": e.Text})
		}
		c.JSON(http.StatusOK, gin.H{"entries": out})
	})
	api.POST("/ping/reset", func(c *gin.Context) {
		s.manager.ResetStats()
		c.JSON(http.StatusOK, gin.H{"status": "reset"})
	})
	api.POST("/disconnect", func(c *gin.Context) {
		s.manager.SetExitFlag("status api disconnect")
		c.JSON(http.StatusOK, gin.H{"status": "disconnecting"})
	})
}

func (s *Server) sessionView() sessionView {
	m := s.manager
	policy := m.Policy()
	v := sessionView{
		Client:    m.ClientID(),
		State:     m.State().String(),
		Connected: m.IsConnected(),
		Policy: policyView{
			AllowReconnect: policy.AllowReconnect,
			Reconnecting:   policy.Reconnecting,
			NeverReconnect: policy.NeverReconnect,
		},
		Sequence:     m.Sequence(),
		Summary:      m.StateSummary(),
		RawStats:     m.RawStats(),
		LocalAddress: m.LocalAddress(),
		Error:        m.ErrString(),
	}
	if info, ok := m.Info(); ok {
		v.Info = &infoView{
			SessionID:         info.SessionID,
			ChannelID:         info.ChannelID,
			FeatureVersion:    info.FeatureVersion,
			ServerIP:          info.ServerIP,
			BufferSize:        info.BufferSize,
			InitialPopulation: info.InitialPopulation,
			HasPassword:       info.HasPassword,
			Obfuscation:       info.Features.Obfuscation,
			Sequence:          info.Features.Sequence,
			Lock:              info.Features.Lock,
			MoveTimes:         info.Features.MoveTimes,
			ClockOffsetMS:     info.ClockOffset.Milliseconds(),
			ConnectedAt:       info.ConnectedAt,
		}
	}
	return v
}

func echoViews(entries []session.EchoEntry) []echoView {
	out := make([]echoView, 0, len(entries))
	for _, e := range entries {
		out = append(out, echoView{Tag: e.Tag, Seq: e.Seq, Body: e.Body})
	}
	return out
}
