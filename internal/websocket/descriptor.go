package websocket

import (
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Descriptor: неизменяемое после загрузки описание возможностей биржи.
type Descriptor struct {
	Exchange                 string
	SupportsLivePairAddition bool
	Endpoints                map[string]string
	SandboxEndpoints         map[string]string
	// SandboxPrivateFeeds: песочница биржи принимает вход с ключами песочницы на приватных фидах.
	SandboxPrivateFeeds bool
	Feeds               map[Feed]FeedSpec
	IgnoredWhenPresent  map[Feed][]Feed
}

type descriptorFile struct {
	Exchange                 string              `yaml:"exchange"`
	SupportsLivePairAddition bool                `yaml:"supports_live_pair_addition"`
	Endpoints                map[string]string   `yaml:"endpoints"`
	SandboxEndpoints         map[string]string   `yaml:"sandbox_endpoints"`
	SandboxPrivateFeeds      bool                `yaml:"sandbox_private_feeds"`
	Feeds                    map[string]feedFile `yaml:"feeds"`
	IgnoredWhenPresent       map[string][]string `yaml:"ignored_when_present"`
}

type feedFile struct {
	Subscription string `yaml:"subscription"`
	Endpoint     string `yaml:"endpoint"`
	Topology     string `yaml:"topology"`
	Private      bool   `yaml:"private"`
	RequiresInit bool   `yaml:"requires_init"`
	Throttleable bool   `yaml:"throttleable"`
	PerTimeFrame bool   `yaml:"per_timeframe"`
	Watched      bool   `yaml:"watched"`
	FuturesOnly  bool   `yaml:"futures_only"`
}

func ParseDescriptor(data []byte) (*Descriptor, error) {
	var f descriptorFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decode exchange descriptor")
	}
	if f.Exchange == "" {
		return nil, errors.New("exchange descriptor without exchange name")
	}

	d := &Descriptor{
		Exchange:                 f.Exchange,
		SupportsLivePairAddition: f.SupportsLivePairAddition,
		Endpoints:                f.Endpoints,
		SandboxEndpoints:         f.SandboxEndpoints,
		SandboxPrivateFeeds:      f.SandboxPrivateFeeds,
		Feeds:                    make(map[Feed]FeedSpec, len(f.Feeds)),
		IgnoredWhenPresent:       make(map[Feed][]Feed, len(f.IgnoredWhenPresent)),
	}
	for name, ff := range f.Feeds {
		topo := Topology(ff.Topology)
		switch topo {
		case TopologyPairIndependent, TopologyTradedPair:
		case "":
			topo = TopologyTradedPair
		default:
			return nil, errors.Errorf("feed %s: unknown topology %q", name, ff.Topology)
		}
		if _, ok := f.Endpoints[ff.Endpoint]; !ok {
			return nil, errors.Errorf("feed %s: unknown endpoint %q", name, ff.Endpoint)
		}
		d.Feeds[Feed(name)] = FeedSpec{
			Feed:         Feed(name),
			Subscription: ff.Subscription,
			Endpoint:     ff.Endpoint,
			Topology:     topo,
			Private:      ff.Private,
			RequiresInit: ff.RequiresInit,
			Throttleable: ff.Throttleable,
			PerTimeFrame: ff.PerTimeFrame,
			Watched:      ff.Watched,
			FuturesOnly:  ff.FuturesOnly,
		}
	}
	for name, by := range f.IgnoredWhenPresent {
		list := make([]Feed, 0, len(by))
		for _, b := range by {
			list = append(list, Feed(b))
		}
		d.IgnoredWhenPresent[Feed(name)] = list
	}
	return d, nil
}

func (d *Descriptor) Supports(feed Feed) bool {
	_, ok := d.Feeds[feed]
	return ok
}

// Endpoint возвращает URL для ключа эндпоинта с учётом песочницы.
func (d *Descriptor) Endpoint(key string, sandboxed bool) string {
	if sandboxed {
		if u, ok := d.SandboxEndpoints[key]; ok {
			return u
		}
	}
	return d.Endpoints[key]
}

// Resolve оставляет только поддерживаемые фиды и убирает скрытые правилом ignored-when-present.
// Пустой запрос означает все фиды биржи. Результат отсортирован.
func (d *Descriptor) Resolve(requested []Feed) []Feed {
	if len(requested) == 0 {
		for f := range d.Feeds {
			requested = append(requested, f)
		}
	}
	present := make(map[Feed]struct{}, len(requested))
	for _, f := range requested {
		if d.Supports(f) {
			present[f] = struct{}{}
		}
	}

	out := make([]Feed, 0, len(present))
	for f := range present {
		hidden := false
		for _, by := range d.IgnoredWhenPresent[f] {
			if _, ok := present[by]; ok {
				hidden = true
				break
			}
		}
		if !hidden {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
