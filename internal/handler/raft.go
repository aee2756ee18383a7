package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// RaftAdmin 由 sentinel.App 实现
type RaftAdmin interface {
	GetLeaderIP() (string, error)
	AddOrRemoveNode(node string, addNode bool) error
}

type RaftNodeData struct {
	Node string `json:"node"` // "version:ip"
}

func GetLeaderIP(app RaftAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 使用 defer 和 recover 捕获 panic 错误
		defer func() {
			if r := recover(); r != nil {
				http.Error(w, fmt.Sprintf("Internal server error: %v", r), http.StatusInternalServerError)
			}
		}()

		// 检查请求方法，支持 GET 和 POST 请求
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
			return
		}

		leaderIP, err := app.GetLeaderIP()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get leader IP: %v", err), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "success",
			"leaderIP": leaderIP,
		})
	}
}

func AddRaftNode(app RaftAdmin) http.HandlerFunc {
	return handleRaftNodeChange(app, true)
}

func RemoveRaftNode(app RaftAdmin) http.HandlerFunc {
	return handleRaftNodeChange(app, false)
}

// 处理节点添加或删除的公共函数
func handleRaftNodeChange(app RaftAdmin, addNode bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if r := recover(); r != nil {
				http.Error(w, fmt.Sprintf("Internal server error: %v", r), http.StatusInternalServerError)
			}
		}()

		if r.Method != http.MethodPost {
			http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read request body: %v", err), http.StatusBadRequest)
			return
		}

		var data RaftNodeData
		if err = json.Unmarshal(body, &data); err != nil {
			http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
			return
		}
		if data.Node == "" {
			http.Error(w, "node is required", http.StatusBadRequest)
			return
		}

		if err = app.AddOrRemoveNode(data.Node, addNode); err != nil {
			http.Error(w, fmt.Sprintf("Error: %v", err), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success"})
	}
}
