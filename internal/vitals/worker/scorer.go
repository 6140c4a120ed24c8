// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package worker

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Scorer evaluates the pre-trained isolation forest exported by the offline
// training pipeline. The artifact is a JSON file describing the fitted trees,
// the subsample size, and the decision offset.
//
// Native convention (matching the trainer): decision < 0 flags an anomaly,
// and lower decision means more abnormal. Score inverts that exactly once at
// this boundary so everything downstream compares "higher = worse". Keep the
// inversion here and nowhere else.
type Scorer struct {
	trees     []scoreTree
	subsample int
	offset    float64
}

// scoreNode is one node of a flattened tree. Leaf nodes have Left == -1 and
// carry the number of training samples that reached them.
type scoreNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Size      int     `json:"n"`
}

type scoreTree struct {
	Nodes []scoreNode `json:"nodes"`
}

type modelArtifact struct {
	Trees         []scoreTree `json:"trees"`
	SubsampleSize int         `json:"subsample_size"`
	Offset        float64     `json:"offset"`
	Features      int         `json:"features"`
}

// LoadScorer reads and validates the model artifact. Any failure here is
// fatal for the worker: it must not start without a scorer.
func LoadScorer(path string) (*Scorer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	var m modelArtifact
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if len(m.Trees) == 0 {
		return nil, fmt.Errorf("model %s: no trees", path)
	}
	if m.SubsampleSize < 2 {
		return nil, fmt.Errorf("model %s: subsample size %d", path, m.SubsampleSize)
	}
	for i, t := range m.Trees {
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("model %s: tree %d is empty", path, i)
		}
	}
	return &Scorer{trees: m.Trees, subsample: m.SubsampleSize, offset: m.Offset}, nil
}

// Score evaluates one feature vector. It returns the anomaly flag and a
// score where higher means more abnormal.
func (s *Scorer) Score(features []float64) (bool, float64) {
	var total float64
	for _, t := range s.trees {
		total += t.pathLength(features)
	}
	avgPath := total / float64(len(s.trees))

	// Standard isolation forest normalization: anomaly measure in (0, 1],
	// then the sklearn-style decision relative to the fitted offset.
	anomaly := math.Pow(2, -avgPath/averagePathLength(s.subsample))
	decision := -anomaly - s.offset

	return decision < 0, -decision
}

// pathLength walks the tree and returns the depth of the leaf plus the
// average-path adjustment for the samples pooled there.
func (t scoreTree) pathLength(features []float64) float64 {
	depth := 0.0
	idx := 0
	for {
		n := t.Nodes[idx]
		if n.Left < 0 {
			return depth + averagePathLength(n.Size)
		}
		if n.Feature < len(features) && features[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
		depth++
	}
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search over n samples.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*h - 2*float64(n-1)/float64(n)
}
