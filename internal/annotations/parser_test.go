/*
Copyright 2024 The EdnaJob Controller Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package annotations

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	ednav1 "github.com/graitdm/ednajob-controller/pkg/apis/ednajob/v1"
)

var _ = Describe("AnnotationParser", func() {

	var parser *AnnotationParser

	BeforeEach(func() {
		parser = NewAnnotationParser()
	})

	crdWith := func(annotations map[string]string) *apiextensionsv1.CustomResourceDefinition {
		return &apiextensionsv1.CustomResourceDefinition{
			ObjectMeta: metav1.ObjectMeta{Name: ednav1.CRDName, Annotations: annotations},
		}
	}

	Describe("ParseReplicas", func() {
		It("should parse the replicas annotation", func() {
			replicas, err := parser.ParseReplicas(crdWith(map[string]string{"replicas": "3"}), 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(replicas).To(Equal(int32(3)))
		})

		It("should tolerate surrounding whitespace", func() {
			replicas, err := parser.ParseReplicas(crdWith(map[string]string{"replicas": " 2 "}), 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(replicas).To(Equal(int32(2)))
		})

		It("should accept zero", func() {
			replicas, err := parser.ParseReplicas(crdWith(map[string]string{"replicas": "0"}), 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(replicas).To(BeZero())
		})

		It("should fall back when the annotation is missing", func() {
			replicas, err := parser.ParseReplicas(crdWith(nil), 4)
			Expect(err).ToNot(HaveOccurred())
			Expect(replicas).To(Equal(int32(4)))

			replicas, err = parser.ParseReplicas(crdWith(map[string]string{"other": "9"}), 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(replicas).To(Equal(int32(1)))
		})

		DescribeTable("should reject malformed values",
			func(value string) {
				_, err := parser.ParseReplicas(crdWith(map[string]string{"replicas": value}), 1)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("replicas"))
			},
			Entry("word", "three"),
			Entry("empty", ""),
			Entry("fraction", "1.5"),
			Entry("negative", "-1"),
			Entry("too large", "1000000"),
		)
	})

	Describe("labels", func() {
		var job *ednav1.EdnaJob

		BeforeEach(func() {
			job = &ednav1.EdnaJob{ObjectMeta: metav1.ObjectMeta{Name: "ingest", Namespace: "default"}}
		})

		It("should build job labels", func() {
			Expect(parser.JobLabels(job)).To(Equal(map[string]string{
				"app":                      "ednajob",
				"edna.graitdm.edu/ednajob": "ingest",
			}))
		})

		It("should build managed labels", func() {
			Expect(parser.ManagedLabels()).To(HaveKeyWithValue(ManagedByLabel, "ednajob-controller"))
		})

		It("should read the job name back", func() {
			obj := &metav1.ObjectMeta{Labels: parser.JobLabels(job)}
			name, ok := parser.JobName(obj)
			Expect(ok).To(BeTrue())
			Expect(name).To(Equal("ingest"))
			Expect(parser.BelongsTo(obj, job)).To(BeTrue())

			other := job.DeepCopy()
			other.Name = "export"
			Expect(parser.BelongsTo(obj, other)).To(BeFalse())
		})

		It("should report missing job labels", func() {
			_, ok := parser.JobName(&metav1.ObjectMeta{})
			Expect(ok).To(BeFalse())

			_, ok = parser.JobName(&metav1.ObjectMeta{Labels: map[string]string{ednav1.JobLabelKey: ""}})
			Expect(ok).To(BeFalse())
			Expect(parser.BelongsTo(&metav1.ObjectMeta{}, job)).To(BeFalse())
		})

		It("should detect managed objects", func() {
			Expect(parser.IsManaged(&metav1.ObjectMeta{Labels: parser.ManagedLabels()})).To(BeTrue())
			Expect(parser.IsManaged(&metav1.ObjectMeta{Labels: map[string]string{ManagedByLabel: "helm"}})).To(BeFalse())
			Expect(parser.IsManaged(&metav1.ObjectMeta{})).To(BeFalse())
		})
	})

	Describe("GetAnnotationValue", func() {
		It("should return values and presence", func() {
			obj := &metav1.ObjectMeta{Annotations: map[string]string{"a": "b"}}
			v, ok := parser.GetAnnotationValue(obj, "a")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal("b"))

			_, ok = parser.GetAnnotationValue(obj, "missing")
			Expect(ok).To(BeFalse())

			_, ok = parser.GetAnnotationValue(&metav1.ObjectMeta{}, "a")
			Expect(ok).To(BeFalse())
		})
	})
})
