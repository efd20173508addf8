package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/quotio/quotiod/internal/errors"
	"github.com/quotio/quotiod/internal/ipc"
	"github.com/quotio/quotiod/internal/models"
	"github.com/quotio/quotiod/internal/oauth"
	"github.com/quotio/quotiod/internal/proxy"
	"github.com/quotio/quotiod/internal/registry"
	"github.com/quotio/quotiod/internal/tracker"
)

// decodeParams fills target from params, mapping bad shapes to -32602.
func decodeParams(params json.RawMessage, target any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, target); err != nil {
		return errors.RPCError(errors.CodeInvalidParams, "invalid params: "+err.Error())
	}
	return nil
}

// register wraps a handler with the per-method metrics counter.
func (d *Daemon) register(method string, h ipc.Handler) {
	d.server.Register(method, func(ctx context.Context, params json.RawMessage) (any, error) {
		result, err := h(ctx, params)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		d.metrics.RPCRequests.WithLabelValues(method, outcome).Inc()
		return result, err
	})
}

func (d *Daemon) registerHandlers() {
	// daemon
	d.register("daemon.ping", d.handlePing)
	d.register("daemon.status", d.handleDaemonStatus)
	d.register("daemon.shutdown", d.handleDaemonShutdown)

	// proxy
	d.register("proxy.start", d.handleProxyStart)
	d.register("proxy.stop", d.handleProxyStop)
	d.register("proxy.status", d.handleProxyStatus)
	d.register("proxy.health", d.handleProxyHealth)
	d.register("proxy.healthCheck", d.handleProxyHealth)
	d.register("proxy.latestVersion", d.handleProxyLatestVersion)

	// auth
	d.register("auth.list", d.handleAuthList)
	d.register("auth.delete", d.handleAuthDelete)
	d.register("auth.deleteAll", d.handleAuthDeleteAll)
	d.register("auth.setDisabled", d.handleAuthSetDisabled)
	d.register("auth.models", d.handleAuthModels)

	// oauth
	d.register("oauth.start", d.handleOAuthStart)
	d.register("oauth.poll", d.handleOAuthPoll)

	// quota
	d.register("quota.fetch", d.handleQuotaFetch)
	d.register("quota.list", d.handleQuotaList)

	// stats
	d.register("stats.add", d.handleStatsAdd)
	d.register("stats.list", d.handleStatsList)
	d.register("stats.get", d.handleStatsGet)
	d.register("stats.clear", d.handleStatsClear)
	d.register("stats.status", d.handleStatsStatus)

	// config
	d.register("config.get", d.handleConfigGet)
	d.register("config.set", d.handleConfigSet)
	d.register("proxyConfig.getAll", d.handleProxyConfigGetAll)
	d.register("proxyConfig.get", d.handleProxyConfigGet)
	d.register("proxyConfig.set", d.handleProxyConfigSet)

	// api keys
	d.register("apiKeys.list", d.handleAPIKeysList)
	d.register("apiKeys.add", d.handleAPIKeysAdd)
	d.register("apiKeys.delete", d.handleAPIKeysDelete)

	// logs
	d.register("logs.fetch", d.handleLogsFetch)
	d.register("logs.clear", d.handleLogsClear)
}

// ---------------- daemon ----------------

func (d *Daemon) handlePing(ctx context.Context, params json.RawMessage) (any, error) {
	return map[string]any{"pong": true, "timestamp": time.Now().UnixMilli()}, nil
}

func (d *Daemon) handleDaemonStatus(ctx context.Context, params json.RawMessage) (any, error) {
	state := d.supervisor.State()
	status := map[string]any{
		"running":       true,
		"pid":           os.Getpid(),
		"started_at":    d.startedAt.UTC().Format(time.RFC3339),
		"uptime_ms":     time.Since(d.startedAt).Milliseconds(),
		"proxy_running": state.Running,
		"version":       Version,
	}
	if state.Running {
		status["proxy_port"] = state.Port
	}
	return status, nil
}

func (d *Daemon) handleDaemonShutdown(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Graceful *bool `json:"graceful"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	// the response goes out before the listener closes: shutdown is
	// signalled, not performed inline
	d.requestShutdown()
	return map[string]any{"success": true}, nil
}

// ---------------- proxy ----------------

func (d *Daemon) handleProxyStart(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Port int `json:"port"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	port := req.Port
	if port == 0 {
		port = d.cfg.Proxy.DefaultPort
	}
	if err := d.supervisor.Start(ctx, port); err != nil {
		return nil, err
	}
	d.metrics.ProxyRunning.Set(1)
	state := d.supervisor.State()
	return map[string]any{"success": true, "port": state.Port, "pid": state.PID}, nil
}

func (d *Daemon) handleProxyStop(ctx context.Context, params json.RawMessage) (any, error) {
	if err := d.supervisor.Stop(ctx); err != nil {
		var notRunning *errors.ErrProxyNotRunning
		if stdAs(err, &notRunning) {
			return nil, errors.RPCError(errors.CodeProxyNotRunning, err.Error())
		}
		return nil, err
	}
	d.metrics.ProxyRunning.Set(0)
	return map[string]any{"success": true}, nil
}

func (d *Daemon) handleProxyStatus(ctx context.Context, params json.RawMessage) (any, error) {
	state := d.supervisor.State()
	status := map[string]any{
		"running": state.Running,
		"port":    nil,
		"pid":     nil,
		"healthy": false,
	}
	if state.Running {
		status["port"] = state.Port
		status["pid"] = state.PID
		status["started_at"] = state.StartedAt.UTC().Format(time.RFC3339)
		status["healthy"] = d.supervisor.Healthy(ctx)
	}
	if lastErr := d.supervisor.LastError(); lastErr != "" {
		status["last_error"] = lastErr
	}
	return status, nil
}

func (d *Daemon) handleProxyHealth(ctx context.Context, params json.RawMessage) (any, error) {
	return map[string]any{"healthy": d.supervisor.Healthy(ctx)}, nil
}

func (d *Daemon) handleProxyLatestVersion(ctx context.Context, params json.RawMessage) (any, error) {
	version, err := proxy.LatestVersion(ctx)
	if err != nil {
		return map[string]any{"success": false}, nil
	}
	return map[string]any{"success": true, "latest_version": version}, nil
}

// ---------------- auth ----------------

func (d *Daemon) handleAuthList(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Provider string `json:"provider"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Provider != "" && !models.IsKnownProvider(req.Provider) {
		return nil, errors.RPCError(errors.CodeProviderNotFound, "unsupported provider: "+req.Provider)
	}
	accounts, err := d.store.List(req.Provider)
	if err != nil {
		return nil, err
	}
	list := make([]map[string]any, 0, len(accounts))
	for _, acc := range accounts {
		entry := map[string]any{
			"id":       acc.Key,
			"name":     acc.Label,
			"provider": string(acc.Provider),
			"status":   string(acc.Status),
			"disabled": acc.Disabled,
		}
		if acc.Email != "" {
			entry["email"] = acc.Email
		}
		if acc.LastError != "" {
			entry["last_error"] = acc.LastError
		}
		list = append(list, entry)
	}
	return map[string]any{"accounts": list}, nil
}

type authNameParams struct {
	Name string `json:"name"`
}

func (d *Daemon) handleAuthDelete(ctx context.Context, params json.RawMessage) (any, error) {
	var req authNameParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, errors.RPCError(errors.CodeInvalidParams, "name is required")
	}
	if err := d.store.Delete(req.Name); err != nil {
		var notFound *errors.ErrAccountNotFound
		if stdAs(err, &notFound) {
			return nil, errors.RPCError(errors.CodeAgentNotFound, err.Error())
		}
		return nil, err
	}
	d.registry.Cache().Delete(req.Name)
	return map[string]any{"success": true}, nil
}

func (d *Daemon) handleAuthDeleteAll(ctx context.Context, params json.RawMessage) (any, error) {
	deleted, err := d.store.DeleteAll()
	if err != nil {
		return nil, err
	}
	d.pruneCache()
	return map[string]any{"success": true, "deleted": deleted}, nil
}

func (d *Daemon) handleAuthSetDisabled(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Name     string `json:"name"`
		Disabled bool   `json:"disabled"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, errors.RPCError(errors.CodeInvalidParams, "name is required")
	}
	if err := d.store.SetDisabled(req.Name, req.Disabled); err != nil {
		var notFound *errors.ErrAccountNotFound
		if stdAs(err, &notFound) {
			return nil, errors.RPCError(errors.CodeAgentNotFound, err.Error())
		}
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (d *Daemon) handleAuthModels(ctx context.Context, params json.RawMessage) (any, error) {
	var req authNameParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	acc, err := d.store.Read(req.Name)
	if err != nil {
		return nil, errors.RPCError(errors.CodeAgentNotFound, "account not found: "+req.Name)
	}
	return map[string]any{"success": true, "models": registry.ModelsFor(acc.Provider)}, nil
}

// ---------------- oauth ----------------

func (d *Daemon) handleOAuthStart(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Provider  string `json:"provider"`
		ProjectID string `json:"project_id"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if !models.IsKnownProvider(req.Provider) {
		return nil, errors.RPCError(errors.CodeProviderNotFound, "unsupported provider: "+req.Provider)
	}
	result, err := d.oauth.Start(ctx, models.Provider(req.Provider), req.ProjectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "url": result.URL, "state": result.State}, nil
}

func (d *Daemon) handleOAuthPoll(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		State string `json:"state"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	result, err := d.oauth.Poll(req.State)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"status": string(result.Status)}
	if result.Error != "" {
		out["error"] = result.Error
	}
	if result.Status == oauth.StatusSuccess {
		d.server.Broadcast("auth.changed", map[string]any{"timestamp": time.Now().UnixMilli()})
	}
	return out, nil
}

// ---------------- quota ----------------

// quotaInfoFor flattens one account's snapshot for the wire.
func quotaInfoFor(key string, snapshot *models.QuotaSnapshot) map[string]any {
	provider, _, _ := models.ParseAccountKey(key)
	info := map[string]any{
		"account":      key,
		"provider":     provider,
		"models":       snapshot.Models,
		"fetched_at":   snapshot.FetchedAt.UTC().Format(time.RFC3339),
		"is_forbidden": snapshot.IsForbidden,
	}
	if snapshot.PlanLabel != "" {
		info["plan"] = snapshot.PlanLabel
	}
	return info
}

func (d *Daemon) handleQuotaFetch(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Provider     string `json:"provider"`
		ForceRefresh bool   `json:"force_refresh"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Provider != "" && !models.IsKnownProvider(req.Provider) {
		return nil, errors.RPCError(errors.CodeProviderNotFound, "unsupported provider: "+req.Provider)
	}

	result := d.registry.FetchAll(ctx, req.Provider)

	quotas := make([]map[string]any, 0, len(result.ByKey))
	for key, snapshot := range result.ByKey {
		quotas = append(quotas, quotaInfoFor(key, snapshot))
	}
	response := map[string]any{"success": true, "quotas": quotas}
	if len(result.Errors) > 0 {
		errList := make([]map[string]any, 0, len(result.Errors))
		for _, fe := range result.Errors {
			errList = append(errList, map[string]any{
				"account":  fe.Key,
				"provider": fe.Provider,
				"error":    fe.Message,
			})
			d.metrics.FetchErrors.WithLabelValues(fe.Provider, fe.Kind).Inc()
		}
		response["errors"] = errList
	}
	d.notifier.ObserveCycle(result.ByKey)
	return response, nil
}

func (d *Daemon) handleQuotaList(ctx context.Context, params json.RawMessage) (any, error) {
	cached := d.registry.Cache().All()
	quotas := make([]map[string]any, 0, len(cached))
	for key, snapshot := range cached {
		quotas = append(quotas, quotaInfoFor(key, snapshot))
	}
	response := map[string]any{"quotas": quotas}
	if at, ok := d.registry.Cache().LastFetched(); ok {
		response["last_fetched"] = at.UTC().Format(time.RFC3339)
	}
	return response, nil
}

// ---------------- stats ----------------

func (d *Daemon) handleStatsAdd(ctx context.Context, params json.RawMessage) (any, error) {
	var entry models.RequestLogEntry
	if err := decodeParams(params, &entry); err != nil {
		return nil, err
	}
	if entry.Method == "" || entry.Endpoint == "" {
		return nil, errors.RPCError(errors.CodeInvalidParams, "method and endpoint are required")
	}
	added := d.tracker.Add(entry)
	return map[string]any{"success": true, "id": added.ID}, nil
}

func (d *Daemon) handleStatsList(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Provider string `json:"provider"`
		Minutes  int    `json:"minutes"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	opts := tracker.ListOptions{Provider: req.Provider}
	if req.Minutes > 0 {
		opts.Since = time.Now().Add(-time.Duration(req.Minutes) * time.Minute)
	}
	entries := d.tracker.List(opts)
	return map[string]any{"requests": entries, "total": len(entries)}, nil
}

func (d *Daemon) handleStatsGet(ctx context.Context, params json.RawMessage) (any, error) {
	return d.tracker.Stats(), nil
}

func (d *Daemon) handleStatsClear(ctx context.Context, params json.RawMessage) (any, error) {
	d.tracker.Clear()
	return map[string]any{"success": true}, nil
}

func (d *Daemon) handleStatsStatus(ctx context.Context, params json.RawMessage) (any, error) {
	stats := d.tracker.Stats()
	return map[string]any{
		"entries":  d.tracker.Len(),
		"capacity": d.cfg.Tracker.Capacity,
		"success":  stats.Success,
		"failure":  stats.Failure,
	}, nil
}

// ---------------- config ----------------

type configKeyParams struct {
	Key string `json:"key"`
}

func (d *Daemon) handleConfigGet(ctx context.Context, params json.RawMessage) (any, error) {
	var req configKeyParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	value, ok := d.settings.Get(req.Key)
	if !ok {
		return map[string]any{"key": req.Key, "value": nil}, nil
	}
	return map[string]any{"key": req.Key, "value": value}, nil
}

func (d *Daemon) handleConfigSet(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, errors.RPCError(errors.CodeInvalidParams, "key is required")
	}
	if err := d.settings.Set(req.Key, req.Value); err != nil {
		return nil, errors.RPCError(errors.CodeConfigError, err.Error())
	}
	return map[string]any{"success": true}, nil
}

func (d *Daemon) handleProxyConfigGetAll(ctx context.Context, params json.RawMessage) (any, error) {
	return map[string]any{"config": d.proxyConf.All()}, nil
}

func (d *Daemon) handleProxyConfigGet(ctx context.Context, params json.RawMessage) (any, error) {
	var req configKeyParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	value, ok := d.proxyConf.Get(req.Key)
	if !ok {
		return map[string]any{"key": req.Key, "value": nil}, nil
	}
	return map[string]any{"key": req.Key, "value": value}, nil
}

func (d *Daemon) handleProxyConfigSet(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, errors.RPCError(errors.CodeInvalidParams, "key is required")
	}
	if err := d.proxyConf.Set(req.Key, req.Value); err != nil {
		return nil, errors.RPCError(errors.CodeConfigError, err.Error())
	}
	return map[string]any{"success": true}, nil
}

// ---------------- api keys ----------------

const apiKeysSetting = "api-keys"

func (d *Daemon) apiKeys() []string {
	raw, ok := d.proxyConf.Get(apiKeysSetting)
	if !ok {
		return nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil
	}
	return keys
}

func (d *Daemon) saveAPIKeys(keys []string) error {
	raw, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return d.proxyConf.Set(apiKeysSetting, raw)
}

func (d *Daemon) handleAPIKeysList(ctx context.Context, params json.RawMessage) (any, error) {
	keys := d.apiKeys()
	if keys == nil {
		keys = []string{}
	}
	return map[string]any{"keys": keys}, nil
}

func (d *Daemon) handleAPIKeysAdd(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Key string `json:"key"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, errors.RPCError(errors.CodeInvalidParams, "key is required")
	}
	keys := d.apiKeys()
	for _, k := range keys {
		if k == req.Key {
			return map[string]any{"success": true}, nil
		}
	}
	if err := d.saveAPIKeys(append(keys, req.Key)); err != nil {
		return nil, errors.RPCError(errors.CodeConfigError, err.Error())
	}
	return map[string]any{"success": true}, nil
}

func (d *Daemon) handleAPIKeysDelete(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Key string `json:"key"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	keys := d.apiKeys()
	kept := keys[:0]
	found := false
	for _, k := range keys {
		if k == req.Key {
			found = true
			continue
		}
		kept = append(kept, k)
	}
	if !found {
		return nil, errors.RPCError(errors.CodeConfigError, fmt.Sprintf("unknown api key: %s", req.Key))
	}
	if err := d.saveAPIKeys(kept); err != nil {
		return nil, errors.RPCError(errors.CodeConfigError, err.Error())
	}
	return map[string]any{"success": true}, nil
}

// ---------------- logs ----------------

func (d *Daemon) handleLogsFetch(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		After string `json:"after"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	entries := d.tracker.List(tracker.ListOptions{AfterID: req.After})
	logs := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		entry := map[string]any{
			"id":          e.ID,
			"timestamp":   e.Timestamp.UTC().Format(time.RFC3339Nano),
			"method":      e.Method,
			"path":        e.Endpoint,
			"status_code": e.StatusCode,
			"duration":    e.DurationMS,
		}
		if e.Provider != "" {
			entry["provider"] = e.Provider
		}
		if e.Model != "" {
			entry["model"] = e.Model
		}
		if e.InTokens > 0 {
			entry["in_tok"] = e.InTokens
		}
		if e.OutTokens > 0 {
			entry["out_tok"] = e.OutTokens
		}
		if e.Error != "" {
			entry["error"] = e.Error
		}
		logs = append(logs, entry)
	}
	return map[string]any{
		"success": true,
		"logs":    logs,
		"total":   d.tracker.Len(),
		"last_id": d.tracker.LastID(),
	}, nil
}

func (d *Daemon) handleLogsClear(ctx context.Context, params json.RawMessage) (any, error) {
	d.tracker.Clear()
	return map[string]any{"success": true}, nil
}
