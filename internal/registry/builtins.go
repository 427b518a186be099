/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package registry

// builtinSources returns the raw YAML documents for the three agents the
// engine seeds every process with.
func builtinSources() map[string]string {
	return map[string]string{
		BuiltinJoker: `
agent:
  id: joker
  version: "1.0"
  protocol: agent-engine/v1
metadata:
  name: joker
  description: tells a short joke on a given topic
  category: entertainment
schema:
  input:
    type: object
    properties:
      topic: {type: string}
    required: [topic]
  output:
    type: object
    properties:
      joke: {type: string}
      metadata: {type: any}
    required: [joke]
logic:
  workflow:
    - name: generate
      type: text-gen
      result: gen
      action:
        type: text-gen
        prompt: "Tell a clean, short joke about the given topic."
        temperature: 0.7
    - name: project
      type: output-project
      action:
        type: generate
        output:
          joke: "$gen.text"
          metadata: "$gen.metadata"
`,
		BuiltinTranslator: `
agent:
  id: translator
  version: "1.0"
  protocol: agent-engine/v1
metadata:
  name: translator
  description: translates text between two languages
  category: language
schema:
  input:
    type: object
    properties:
      text: {type: string}
      src: {type: string}
      dst: {type: string}
    required: [text, src, dst]
  output:
    type: object
    properties:
      translated: {type: string}
      metadata: {type: any}
    required: [translated]
logic:
  workflow:
    - name: translate
      type: translation
      result: tr
      action:
        type: translation
        text: "$input.text"
        src: "$input.src"
        dst: "$input.dst"
    - name: project
      type: output-project
      action:
        type: generate
        output:
          translated: "$tr.text"
          metadata: "$tr.metadata"
`,
		BuiltinImageGen: `
agent:
  id: image-gen
  version: "1.0"
  protocol: agent-engine/v1
metadata:
  name: image-gen
  description: generates an image from a text description
  category: creative
schema:
  input:
    type: object
    properties:
      description: {type: string}
      style: {type: string}
      resolution: {type: string}
    required: [description]
  output:
    type: object
    properties:
      image_url: {type: string}
      image_base64: {type: string}
      media_type: {type: string}
      metadata: {type: any}
    required: [image_url]
logic:
  workflow:
    - name: render
      type: image-gen
      result: img
      action:
        type: image-gen
        description: "$input.description"
        style: "$input.style"
        resolution: "$input.resolution"
    - name: project
      type: output-project
      action:
        type: generate
        output:
          image_url: "$img.image_url"
          image_base64: "$img.image_base64"
          media_type: "$img.media_type"
          metadata: "$img.metadata"
`,
	}
}
