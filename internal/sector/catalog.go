package sector

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed sectors.yaml
var defaultCatalogYAML []byte

var ErrUnknownSector = errors.New("unknown sector")

// Sector 描述一个投资板块及其检索关键词
type Sector struct {
	Key      string   `yaml:"key" json:"key"`
	Name     string   `yaml:"name" json:"name"`
	NameDE   string   `yaml:"name_de" json:"name_de"`
	Queries  []string `yaml:"queries" json:"queries"`
	Hashtags []string `yaml:"hashtags" json:"hashtags"`
	Accounts []string `yaml:"accounts" json:"accounts"`
}

// Keywords 返回全部查询短语（小写），用于按内容判断是否属于该板块
func (s Sector) Keywords() []string {
	return lowerAll(s.Queries)
}

// TrendingKeywords 取前 5 个查询短语加全部话题标签（小写），用于过滤全站热门
func (s Sector) TrendingKeywords() []string {
	n := len(s.Queries)
	if n > 5 {
		n = 5
	}
	out := lowerAll(s.Queries[:n])
	return append(out, lowerAll(s.Hashtags)...)
}

// Catalog 启动时加载一次，之后只读
type Catalog struct {
	order              []string
	sectors            map[string]Sector
	governmentAccounts []string
}

type catalogFile struct {
	GovernmentAccounts []string `yaml:"government_accounts"`
	Sectors            []Sector `yaml:"sectors"`
}

// Default 返回内置的板块目录
func Default() *Catalog {
	c, err := Parse(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("sector: embedded catalog invalid: %v", err))
	}
	return c
}

// Load path 为空时使用内置目录，否则从 YAML 文件读取
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sector: read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("sector: decode catalog: %w", err)
	}
	if len(f.Sectors) == 0 {
		return nil, errors.New("sector: catalog has no sectors")
	}

	c := &Catalog{
		order:              make([]string, 0, len(f.Sectors)),
		sectors:            make(map[string]Sector, len(f.Sectors)),
		governmentAccounts: f.GovernmentAccounts,
	}
	for i, s := range f.Sectors {
		s.Key = strings.TrimSpace(s.Key)
		if s.Key == "" {
			return nil, fmt.Errorf("sector: entry %d has empty key", i)
		}
		if _, dup := c.sectors[s.Key]; dup {
			return nil, fmt.Errorf("sector: duplicate key %q", s.Key)
		}
		if s.Name == "" {
			s.Name = s.Key
		}
		c.order = append(c.order, s.Key)
		c.sectors[s.Key] = s
	}
	return c, nil
}

// Keys 按配置顺序返回板块 key
func (c *Catalog) Keys() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Catalog) Get(key string) (Sector, bool) {
	s, ok := c.sectors[key]
	return s, ok
}

// Lookup 未知 key 返回包装了 ErrUnknownSector 的错误
func (c *Catalog) Lookup(key string) (Sector, error) {
	s, ok := c.sectors[key]
	if !ok {
		return Sector{}, fmt.Errorf("%w: %s", ErrUnknownSector, key)
	}
	return s, nil
}

func (c *Catalog) GovernmentAccounts() []string {
	out := make([]string, len(c.governmentAccounts))
	copy(out, c.governmentAccounts)
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
