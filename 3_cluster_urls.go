package gscluster

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ReferenceURL is a caller supplied URL to match against the report.
// Keyword is carried through from the input file and does not influence
// clustering.
type ReferenceURL struct {
	URL     string `json:"url"`
	Keyword string `json:"keyword"`
}

// Cluster is a group of report URLs that were the nearest match of at least
// one reference URL.
type Cluster struct {
	ID      int      `json:"id"`
	Label   string   `json:"label"`
	Members []string `json:"members"`
}

// Contains reports whether url is a member of the cluster.
func (c *Cluster) Contains(url string) bool {
	for _, m := range c.Members {
		if m == url {
			return true
		}
	}
	return false
}

func (c *Cluster) add(url string) {
	if !c.Contains(url) {
		c.Members = append(c.Members, url)
	}
}

// UnmatchedReference is a reference URL that could not be assigned to any
// cluster.
type UnmatchedReference struct {
	Reference ReferenceURL
	Err       error
}

// Assignment is the outcome of AssignClusters.
type Assignment struct {
	Clusters  []Cluster
	Unmatched []UnmatchedReference
}

// AssignClusters maps every reference URL, in order, to its nearest document
// in v. The matched document, never the reference URL itself, joins the
// cluster that already holds it or opens a new one. Clusters are numbered in
// creation order and left unlabeled; see LabelClusters.
func AssignClusters(v *Vectorizer, refs []ReferenceURL) *Assignment {
	a := &Assignment{}
	owner := make(map[string]int)

	for _, ref := range refs {
		idx, _, err := v.Nearest(ref.URL)
		if err != nil {
			a.Unmatched = append(a.Unmatched, UnmatchedReference{
				Reference: ref,
				Err:       fmt.Errorf("reference %s: %w", ref.URL, err),
			})
			continue
		}

		matched := v.Document(idx)
		if id, ok := owner[matched]; ok {
			a.Clusters[id].add(matched)
			continue
		}

		id := len(a.Clusters)
		a.Clusters = append(a.Clusters, Cluster{ID: id, Members: []string{matched}})
		owner[matched] = id
	}

	return a
}

// LabelClusters sets each cluster's label to the keywords of its first member
// joined by single spaces.
func LabelClusters(clusters []Cluster, stop StopwordSet) {
	for i := range clusters {
		if len(clusters[i].Members) == 0 {
			continue
		}
		clusters[i].Label = strings.Join(Keywords(clusters[i].Members[0], stop), " ")
	}
}

// Clusterer groups report rows around reference URLs and aggregates their
// metrics. A Clusterer holds only configuration, every call to Cluster works
// on its own state.
type Clusterer struct {
	Stopwords StopwordSet

	// StemLanguage enables snowball stemming of URL tokens when not empty.
	StemLanguage string

	// Strict aborts on the first reference URL without a similar report URL
	// instead of skipping it.
	Strict bool

	Logger *zap.Logger
}

// ClusterResult is the outcome of one clustering run.
type ClusterResult struct {
	Clusters  []Cluster
	Metrics   []ClusterMetrics
	Unmatched []UnmatchedReference
}

// Cluster builds a vector space over the URLs of rows, assigns refs to
// clusters, labels them and aggregates their metrics.
func (c *Clusterer) Cluster(rows []PerformanceRow, refs []ReferenceURL) (*ClusterResult, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	universe := make([]string, len(rows))
	for i, row := range rows {
		universe[i] = row.URL
	}

	var opts []VectorizerOption
	if c.StemLanguage != "" {
		opts = append(opts, WithStemming(c.StemLanguage))
	}
	v, err := NewVectorizer(universe, opts...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Fitted vector space",
		zap.Int("urls", v.Len()),
		zap.Int("terms", v.VocabularySize()))

	assignment := AssignClusters(v, refs)
	for _, u := range assignment.Unmatched {
		if c.Strict {
			return nil, u.Err
		}
		logger.Warn("Skipping reference URL without a similar report URL",
			zap.String("url", u.Reference.URL),
			zap.String("keyword", u.Reference.Keyword))
	}

	LabelClusters(assignment.Clusters, c.Stopwords)
	logger.Info("Clustered report URLs",
		zap.Int("references", len(refs)),
		zap.Int("clusters", len(assignment.Clusters)),
		zap.Int("unmatched", len(assignment.Unmatched)))

	return &ClusterResult{
		Clusters:  assignment.Clusters,
		Metrics:   Aggregate(rows, assignment.Clusters),
		Unmatched: assignment.Unmatched,
	}, nil
}
