package discovery

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/minefleet/asicscan/pkg/miner"
	"github.com/minefleet/asicscan/pkg/transport"
)

// devdetailsAttempts is how often the gen-2 WhatsMiner socket API is retried
// before the resolver gives up and scrapes the dashboard instead. Older
// btminer builds drop the first connection after a reboot.
const devdetailsAttempts = 3

// luciTimeout bounds the WhatsMiner dashboard fallback. The LuCI login
// round-trip is far slower than the socket APIs.
const luciTimeout = 10 * time.Second

const luciOverviewPath = "/cgi-bin/luci/admin/status/overview"

// The overview table labels the model row in English or Chinese depending on
// the firmware locale.
var luciModelRow = regexp.MustCompile(`(?s)<td[^>]*>(?:Model|主机型号)</td>.*?<td[^>]*>(WhatsMiner[^<]+)</td>`)

// resolver issues the vendor-specific follow-up calls that turn a
// classification into an exact hardware model and firmware version. Each
// resolution is a direct call keyed by the already-known identity, not a
// race.
type resolver struct {
	timeout time.Duration
	logger  *zap.Logger
	creds   Credentials

	// rpcPort and webPort are fixed on real devices; tests point them at
	// in-process listeners, the same way the prober's ports work.
	rpcPort int
	webPort int
}

func newResolver(timeout time.Duration, creds Credentials, logger *zap.Logger) *resolver {
	return &resolver{
		timeout: timeout,
		logger:  logger,
		creds:   creds,
		rpcPort: transport.DefaultRPCPort,
		webPort: 80,
	}
}

// Model resolves the hardware model for a classified address. Make-keyed
// resolvers take precedence over firmware-keyed ones; an identity with no
// resolver returns the zero model without error.
func (r *resolver) Model(ctx context.Context, ip net.IP, cls miner.Classification) (miner.Model, error) {
	switch cls.Make {
	case miner.MakeAntMiner:
		return r.modelAntMiner(ctx, ip)
	case miner.MakeWhatsMiner:
		return r.modelWhatsMiner(ctx, ip)
	case miner.MakeBitAxe:
		return r.modelBitAxe(ctx, ip)
	case miner.MakeAvalonMiner:
		return r.modelAvalon(ctx, ip)
	}

	switch cls.Firmware {
	case miner.FirmwareLuxOS:
		return r.modelLuxOS(ctx, ip)
	case miner.FirmwareBraiins:
		return r.modelBraiins(ctx, ip)
	case miner.FirmwareVNish:
		return r.modelVNish(ctx, ip)
	case miner.FirmwareEPic:
		return r.modelEPic(ctx, ip)
	}

	return miner.Model{}, nil
}

// Version resolves the firmware version for a classified address. Families
// without a version endpoint return nil without error; backend dispatch
// decides whether that matters.
func (r *resolver) Version(ctx context.Context, ip net.IP, cls miner.Classification) (*semver.Version, error) {
	switch cls.Make {
	case miner.MakeWhatsMiner:
		return r.versionWhatsMiner(ctx, ip)
	case miner.MakeBitAxe:
		return r.versionBitAxe(ctx, ip)
	case miner.MakeAntMiner:
		return r.versionAntMiner(ctx, ip)
	}

	switch cls.Firmware {
	case miner.FirmwareBraiins:
		return r.versionBraiins(ctx, ip)
	case miner.FirmwareVNish:
		return r.versionVNish(ctx, ip)
	case miner.FirmwareEPic:
		return r.versionEPic(ctx, ip)
	}

	return nil, nil
}

func (r *resolver) rpc(ip net.IP) *transport.RPC {
	return transport.NewRPC(ip,
		transport.WithRPCPort(r.rpcPort),
		transport.WithRPCTimeout(r.timeout),
		transport.WithRPCLogger(r.logger),
	)
}

func (r *resolver) web(ip net.IP, opts ...transport.WebOption) *transport.Web {
	base := []transport.WebOption{
		transport.WithWebPort(r.webPort),
		transport.WithWebTimeout(r.timeout),
		transport.WithWebLogger(r.logger),
	}
	return transport.NewWeb(ip, append(base, opts...)...)
}

func (r *resolver) graphql(ip net.IP) *transport.GraphQL {
	return transport.NewGraphQL(ip,
		transport.WithGraphQLPort(r.webPort),
		transport.WithGraphQLCredentials(r.creds.BraiinsUser, r.creds.BraiinsPassword),
		transport.WithGraphQLTimeout(r.timeout),
		transport.WithGraphQLLogger(r.logger),
	)
}

// versionWhatsMiner reads the stock firmware build date. fw_ver is formatted
// YYYYMMDD.XX.REL; the date maps onto a semantic version so release gates
// compare naturally.
func (r *resolver) versionWhatsMiner(ctx context.Context, ip net.IP) (*semver.Version, error) {
	raw, err := r.rpc(ip).Execute(ctx, miner.RPC("get_version"))
	if err != nil {
		return nil, fmt.Errorf("whatsminer get_version: %w: %w", miner.ErrNoResponse, err)
	}

	return parseWhatsMinerFwVer(gjson.GetBytes(raw, "Msg.fw_ver").String())
}

// parseWhatsMinerFwVer maps a "YYYYMMDD.XX.REL" build string onto a
// year.month.day version, which is what the API generation gate compares.
func parseWhatsMinerFwVer(fwVer string) (*semver.Version, error) {
	if len(fwVer) < 8 {
		return nil, fmt.Errorf("whatsminer fw_ver %q: %w", fwVer, miner.ErrUnexpectedResponse)
	}

	year, errY := strconv.ParseUint(fwVer[:4], 10, 64)
	month, errM := strconv.ParseUint(fwVer[4:6], 10, 64)
	day, errD := strconv.ParseUint(fwVer[6:8], 10, 64)
	if errY != nil || errM != nil || errD != nil {
		return nil, fmt.Errorf("whatsminer fw_ver %q: %w", fwVer, miner.ErrUnexpectedResponse)
	}

	return semver.New(year, month, day, "", ""), nil
}

// modelWhatsMiner picks the socket API generation by firmware date and asks
// it for the model. Version resolution failing means neither generation can
// be trusted, so the failure is passed through.
func (r *resolver) modelWhatsMiner(ctx context.Context, ip net.IP) (miner.Model, error) {
	version, err := r.versionWhatsMiner(ctx, ip)
	if err != nil {
		return miner.Model{}, err
	}

	if !version.LessThan(whatsMinerGen3Version) {
		return r.modelWhatsMinerGen3(ctx, ip)
	}
	return r.modelWhatsMinerGen2(ctx, ip)
}

func (r *resolver) modelWhatsMinerGen3(ctx context.Context, ip net.IP) (miner.Model, error) {
	rpc := transport.NewRPC(ip,
		transport.WithRPCFraming(transport.FramingLengthPrefix),
		transport.WithRPCTimeout(r.timeout),
		transport.WithRPCLogger(r.logger),
	)
	raw, err := rpc.Execute(ctx, miner.RPCParam("get.device.info", "miner"))
	if err != nil {
		return miner.Model{}, fmt.Errorf("whatsminer get.device.info: %w: %w", miner.ErrNoResponse, err)
	}

	kind := gjson.GetBytes(raw, "msg.miner.type")
	if !kind.Exists() {
		return miner.Model{}, fmt.Errorf("whatsminer get.device.info: no miner type: %w", miner.ErrUnexpectedResponse)
	}

	cls := miner.Classification{Make: miner.MakeWhatsMiner, Firmware: miner.FirmwareStock}
	return miner.ParseModel(cls, kind.String())
}

func (r *resolver) modelWhatsMinerGen2(ctx context.Context, ip net.IP) (miner.Model, error) {
	var raw []byte
	var err error
	for attempt := 0; attempt < devdetailsAttempts; attempt++ {
		raw, err = r.rpc(ip).Execute(ctx, miner.RPC("devdetails"))
		if err == nil {
			break
		}
	}
	if err != nil {
		// Socket API offline or disabled; the dashboard still knows.
		return r.modelWhatsMinerLuCI(ctx, ip)
	}

	model := gjson.GetBytes(raw, "DEVDETAILS.0.Model")
	if !model.Exists() {
		return miner.Model{}, fmt.Errorf("whatsminer devdetails: no model: %w", miner.ErrUnexpectedResponse)
	}

	cls := miner.Classification{Make: miner.MakeWhatsMiner, Firmware: miner.FirmwareStock}
	return miner.ParseModel(cls, model.String())
}

// modelWhatsMinerLuCI logs into the HTTPS dashboard and scrapes the model
// out of the status overview table.
func (r *resolver) modelWhatsMinerLuCI(ctx context.Context, ip net.IP) (miner.Model, error) {
	form := url.Values{
		"luci_username": {r.creds.WhatsMinerUser},
		"luci_password": {r.creds.WhatsMinerPassword},
	}
	web := transport.NewWeb(ip,
		transport.WithWebScheme("https"),
		transport.WithWebInsecureTLS(),
		transport.WithWebTimeout(luciTimeout),
		transport.WithWebFormLogin(luciOverviewPath, form),
		transport.WithWebLogger(r.logger),
	)

	raw, err := web.Execute(ctx, miner.WebAPI(luciOverviewPath))
	if err != nil {
		return miner.Model{}, fmt.Errorf("whatsminer luci overview: %w: %w", miner.ErrNoResponse, err)
	}

	match := luciModelRow.FindSubmatch(raw)
	if match == nil {
		return miner.Model{}, fmt.Errorf("whatsminer luci overview: no model row: %w", miner.ErrUnexpectedResponse)
	}

	cls := miner.Classification{Make: miner.MakeWhatsMiner, Firmware: miner.FirmwareStock}
	return miner.ParseModel(cls, strings.TrimSpace(string(match[1])))
}

func (r *resolver) antMinerWeb(ip net.IP) *transport.Web {
	return r.web(ip, transport.WithWebDigestAuth(r.creds.AntMinerUser, r.creds.AntMinerPassword))
}

func (r *resolver) modelAntMiner(ctx context.Context, ip net.IP) (miner.Model, error) {
	raw, err := r.antMinerWeb(ip).Execute(ctx, miner.WebAPI("/cgi-bin/get_system_info.cgi"))
	if err != nil {
		return miner.Model{}, fmt.Errorf("antminer system info: %w: %w", miner.ErrNoResponse, err)
	}

	kind := gjson.GetBytes(raw, "minertype")
	if !kind.Exists() {
		return miner.Model{}, fmt.Errorf("antminer system info: no minertype: %w", miner.ErrUnexpectedResponse)
	}

	cls := miner.Classification{Make: miner.MakeAntMiner, Firmware: miner.FirmwareStock}
	return miner.ParseModel(cls, kind.String())
}

// versionAntMiner derives a version from the firmware build date, since
// stock AntMiner firmware reports no structured version at all. CompileTime
// reads like "Fri Nov 17 17:57:40 CST 2023"; the timezone token is dropped
// before parsing.
func (r *resolver) versionAntMiner(ctx context.Context, ip net.IP) (*semver.Version, error) {
	raw, err := r.antMinerWeb(ip).Execute(ctx, miner.WebAPI("/cgi-bin/summary.cgi"))
	if err != nil {
		return nil, fmt.Errorf("antminer summary: %w: %w", miner.ErrNoResponse, err)
	}

	return parseAntMinerCompileTime(gjson.GetBytes(raw, "INFO.CompileTime").String())
}

// parseAntMinerCompileTime turns a CompileTime like
// "Fri Nov 17 17:57:49 CST 2023" into a year.month.day version. The timezone
// token varies by factory and is dropped before parsing.
func parseAntMinerCompileTime(compiled string) (*semver.Version, error) {
	fields := strings.Fields(compiled)
	if len(fields) == 6 {
		fields = append(fields[:4], fields[5])
	}

	when, err := time.Parse("Mon Jan 2 15:04:05 2006", strings.Join(fields, " "))
	if err != nil {
		return nil, fmt.Errorf("antminer compile time %q: %w", compiled, miner.ErrUnexpectedResponse)
	}

	return semver.New(uint64(when.Year()), uint64(when.Month()), uint64(when.Day()), "", ""), nil
}

func (r *resolver) modelBitAxe(ctx context.Context, ip net.IP) (miner.Model, error) {
	raw, err := r.web(ip).Execute(ctx, miner.WebAPI("/api/system/info"))
	if err != nil {
		return miner.Model{}, fmt.Errorf("bitaxe system info: %w: %w", miner.ErrNoResponse, err)
	}

	model := gjson.GetBytes(raw, "ASICModel")
	if !model.Exists() {
		return miner.Model{}, fmt.Errorf("bitaxe system info: no ASICModel: %w", miner.ErrUnexpectedResponse)
	}

	cls := miner.Classification{Make: miner.MakeBitAxe, Firmware: miner.FirmwareStock}
	return miner.ParseModel(cls, model.String())
}

func (r *resolver) versionBitAxe(ctx context.Context, ip net.IP) (*semver.Version, error) {
	raw, err := r.web(ip).Execute(ctx, miner.WebAPI("/api/system/info"))
	if err != nil {
		return nil, fmt.Errorf("bitaxe system info: %w: %w", miner.ErrNoResponse, err)
	}

	reported := gjson.GetBytes(raw, "version").String()
	trimmed, found := strings.CutPrefix(reported, "v")
	if !found {
		return nil, fmt.Errorf("bitaxe version %q: %w", reported, miner.ErrUnexpectedResponse)
	}

	version, err := semver.NewVersion(trimmed)
	if err != nil {
		return nil, fmt.Errorf("bitaxe version %q: %w", reported, miner.ErrUnexpectedResponse)
	}

	// Release channels and commit hashes have no bearing on API selection.
	bare, _ := version.SetPrerelease("")
	bare, _ = bare.SetMetadata("")
	return &bare, nil
}

func (r *resolver) modelAvalon(ctx context.Context, ip net.IP) (miner.Model, error) {
	raw, err := r.rpc(ip).Execute(ctx, miner.RPC("version"))
	if err != nil {
		return miner.Model{}, fmt.Errorf("avalon version: %w: %w", miner.ErrNoResponse, err)
	}

	model := gjson.GetBytes(raw, "VERSION.0.MODEL")
	if !model.Exists() {
		return miner.Model{}, fmt.Errorf("avalon version: no MODEL: %w", miner.ErrUnexpectedResponse)
	}

	// MODEL carries the hashrate bin after a dash, e.g. "A1246-88".
	base, _, _ := strings.Cut(model.String(), "-")
	cls := miner.Classification{Make: miner.MakeAvalonMiner, Firmware: miner.FirmwareStock}
	return miner.ParseModel(cls, base)
}

func (r *resolver) modelLuxOS(ctx context.Context, ip net.IP) (miner.Model, error) {
	raw, err := r.rpc(ip).Execute(ctx, miner.RPC("version"))
	if err != nil {
		return miner.Model{}, fmt.Errorf("luxos version: %w: %w", miner.ErrNoResponse, err)
	}

	kind := gjson.GetBytes(raw, "VERSION.0.Type")
	if !kind.Exists() {
		return miner.Model{}, fmt.Errorf("luxos version: no Type: %w", miner.ErrUnexpectedResponse)
	}

	return miner.ParseModel(miner.Classification{Firmware: miner.FirmwareLuxOS}, kind.String())
}

// normalizeBraiinsModel rewrites a Braiins OS model report into table form.
func normalizeBraiinsModel(raw string) string {
	model := strings.ToUpper(raw)
	model = strings.ReplaceAll(model, "BITMAIN ", "")
	model = strings.ReplaceAll(model, "S19XP", "S19 XP")
	return model
}

// modelBraiins asks the GraphQL API for the model and falls back to the
// cgminer-compatible socket API, which Braiins OS keeps alive for tooling.
func (r *resolver) modelBraiins(ctx context.Context, ip net.IP) (miner.Model, error) {
	cls := miner.Classification{Firmware: miner.FirmwareBraiins}

	raw, err := r.graphql(ip).Execute(ctx, miner.GraphQL("{ bosminer { info { modelName } } }"))
	if err == nil {
		if name := gjson.GetBytes(raw, "data.bosminer.info.modelName"); name.Exists() {
			return miner.ParseModel(cls, normalizeBraiinsModel(name.String()))
		}
	}

	raw, rpcErr := r.rpc(ip).Execute(ctx, miner.RPC("devdetails"))
	if rpcErr != nil {
		return miner.Model{}, fmt.Errorf("braiins devdetails: %w: %w", miner.ErrNoResponse, rpcErr)
	}

	model := gjson.GetBytes(raw, "DEVDETAILS.0.Model")
	if !model.Exists() {
		return miner.Model{}, fmt.Errorf("braiins devdetails: no model: %w", miner.ErrUnexpectedResponse)
	}
	return miner.ParseModel(cls, normalizeBraiinsModel(model.String()))
}

// normalizeBraiinsVersion digs the release number out of a full build string
// like "2023-06-06-0-11012d53-23.03". The last dash token containing a dot is
// the release; leading zeros are trimmed per component and a missing patch
// becomes zero.
func normalizeBraiinsVersion(full string) (string, bool) {
	var token string
	parts := strings.Split(full, "-")
	for i := len(parts) - 1; i >= 0; i-- {
		if strings.Contains(parts[i], ".") {
			token = parts[i]
			break
		}
	}
	if token == "" {
		return "", false
	}

	segments := strings.Split(token, ".")
	for i, segment := range segments {
		trimmed := strings.TrimLeft(segment, "0")
		if trimmed == "" {
			trimmed = "0"
		}
		segments[i] = trimmed
	}

	normalized := strings.Join(segments, ".")
	if len(segments) == 2 {
		normalized += ".0"
	}
	return normalized, true
}

func (r *resolver) versionBraiins(ctx context.Context, ip net.IP) (*semver.Version, error) {
	raw, err := r.graphql(ip).Execute(ctx, miner.GraphQL("{ bos { info { version { full } } } }"))
	if err != nil {
		return nil, fmt.Errorf("braiins bos version: %w: %w", miner.ErrNoResponse, err)
	}

	full := gjson.GetBytes(raw, "data.bos.info.version.full").String()
	normalized, ok := normalizeBraiinsVersion(full)
	if !ok {
		return nil, fmt.Errorf("braiins bos version %q: %w", full, miner.ErrUnexpectedResponse)
	}

	version, err := semver.NewVersion(normalized)
	if err != nil {
		return nil, fmt.Errorf("braiins bos version %q: %w", full, miner.ErrUnexpectedResponse)
	}
	return version, nil
}

func (r *resolver) modelVNish(ctx context.Context, ip net.IP) (miner.Model, error) {
	raw, err := r.web(ip).Execute(ctx, miner.WebAPI("/api/v1/info"))
	if err != nil {
		return miner.Model{}, fmt.Errorf("vnish info: %w: %w", miner.ErrNoResponse, err)
	}

	model := gjson.GetBytes(raw, "miner")
	if !model.Exists() {
		return miner.Model{}, fmt.Errorf("vnish info: no miner: %w", miner.ErrUnexpectedResponse)
	}

	return miner.ParseModel(miner.Classification{Firmware: miner.FirmwareVNish}, model.String())
}

func (r *resolver) versionVNish(ctx context.Context, ip net.IP) (*semver.Version, error) {
	raw, err := r.web(ip).Execute(ctx, miner.WebAPI("/api/v1/info"))
	if err != nil {
		return nil, fmt.Errorf("vnish info: %w: %w", miner.ErrNoResponse, err)
	}

	return parseVNishVersion(gjson.GetBytes(raw, "fw_version").String())
}

func parseVNishVersion(reported string) (*semver.Version, error) {
	version, err := semver.NewVersion(reported)
	if err != nil {
		// Some builds report only major.minor.
		version, err = semver.NewVersion(reported + ".0")
		if err != nil {
			return nil, fmt.Errorf("vnish fw_version %q: %w", reported, miner.ErrUnexpectedResponse)
		}
	}
	return version, nil
}

// ePIC serves its JSON API over HTTP on the cgminer port.
func (r *resolver) epicWeb(ip net.IP) *transport.Web {
	return r.web(ip, transport.WithWebPort(r.rpcPort))
}

func (r *resolver) modelEPic(ctx context.Context, ip net.IP) (miner.Model, error) {
	raw, err := r.epicWeb(ip).Execute(ctx, miner.WebAPI("/capabilities"))
	if err != nil {
		return miner.Model{}, fmt.Errorf("epic capabilities: %w: %w", miner.ErrNoResponse, err)
	}

	model := gjson.GetBytes(raw, "Model")
	if !model.Exists() {
		return miner.Model{}, fmt.Errorf("epic capabilities: no Model: %w", miner.ErrUnexpectedResponse)
	}

	return miner.ParseModel(miner.Classification{Firmware: miner.FirmwareEPic}, model.String())
}

func (r *resolver) versionEPic(ctx context.Context, ip net.IP) (*semver.Version, error) {
	raw, err := r.epicWeb(ip).Execute(ctx, miner.WebAPI("/summary"))
	if err != nil {
		return nil, fmt.Errorf("epic summary: %w: %w", miner.ErrNoResponse, err)
	}

	return parseEPicSoftware(gjson.GetBytes(raw, "Software").String())
}

// parseEPicSoftware extracts the version from a Software string like
// "ePIC Miner v3.1.2"; the last space-separated token carries it.
func parseEPicSoftware(software string) (*semver.Version, error) {
	fields := strings.Fields(software)
	if len(fields) == 0 {
		return nil, fmt.Errorf("epic software %q: %w", software, miner.ErrUnexpectedResponse)
	}

	trimmed, found := strings.CutPrefix(fields[len(fields)-1], "v")
	if !found {
		return nil, fmt.Errorf("epic software %q: %w", software, miner.ErrUnexpectedResponse)
	}

	version, err := semver.NewVersion(trimmed)
	if err != nil {
		return nil, fmt.Errorf("epic software %q: %w", software, miner.ErrUnexpectedResponse)
	}
	return version, nil
}
