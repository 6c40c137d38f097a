package hitl

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func resultProperties(t *testing.T) *gopter.Properties {
	t.Helper()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	return gopter.NewProperties(parameters)
}

// 拒绝总是产生 rejected 结果，原因为去空白后的输入，与 input_type 无关
func TestProperty_RejectionCarriesReason(t *testing.T) {
	properties := resultProperties(t)

	properties.Property("rejection never validates input", prop.ForAll(
		func(input string, inputType string) bool {
			req := &SuspensionRequest{ActionData: map[string]any{ActionInputType: inputType}}
			res, err := BuildResult(req, &Decision{Approved: false, Input: input})
			if err != nil {
				t.Logf("unexpected error: %v", err)
				return false
			}
			return res.Status == ResultRejected && !res.Confirmed &&
				res.Reason == strings.TrimSpace(input) && res.Value == nil
		},
		gen.AnyString(),
		gen.OneConstOf("", "text", "number", "choice", "unknown"),
	))

	properties.TestingRun(t)
}

// 数字输入按 float64 解析，格式化后再解析得到同一个值
func TestProperty_NumberInputRoundTrip(t *testing.T) {
	properties := resultProperties(t)

	properties.Property("approved number parses to the submitted value", prop.ForAll(
		func(f float64, pad int) bool {
			req := &SuspensionRequest{ActionData: map[string]any{ActionInputType: "number"}}
			input := strings.Repeat(" ", pad) + strconv.FormatFloat(f, 'g', -1, 64)
			res, err := BuildResult(req, &Decision{Approved: true, Input: input})
			if err != nil {
				t.Logf("parse %q failed: %v", input, err)
				return false
			}
			v, ok := res.Value.(float64)
			return ok && v == f && res.InputType == InputNumber
		},
		gen.Float64Range(-1e12, 1e12),
		gen.IntRange(0, 3),
	))

	properties.Property("non-numeric input is invalid", prop.ForAll(
		func(word string) bool {
			req := &SuspensionRequest{ActionData: map[string]any{ActionInputType: "number"}}
			_, err := BuildResult(req, &Decision{Approved: true, Input: "n/" + word})
			return errors.Is(err, ErrInvalidInput)
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

// choice 输入必须是候选项之一
func TestProperty_ChoiceMembership(t *testing.T) {
	properties := resultProperties(t)

	properties.Property("listed choice is accepted, anything else rejected", prop.ForAll(
		func(choices []string, idx int) bool {
			req := &SuspensionRequest{ActionData: map[string]any{
				ActionInputType: "choice",
				ActionChoices:   choices,
			}}
			picked := choices[idx%len(choices)]
			res, err := BuildResult(req, &Decision{Approved: true, Input: picked})
			if err != nil || res.Value != picked {
				t.Logf("choice %q rejected: %v", picked, err)
				return false
			}
			_, err = BuildResult(req, &Decision{Approved: true, Input: picked + "-other"})
			return errors.Is(err, ErrInvalidInput)
		},
		gen.SliceOfN(5, gen.Identifier()).SuchThat(func(v []string) bool { return len(v) > 0 }),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
