package oracle

// Prompt templates for the two oracles. Each vision template constrains the
// JSON schema differently: click wants a single selector, type wants a field
// list, select wants a dropdown-trigger descriptor, validate wants a
// boolean-found descriptor.

const reasoningSystemPrompt = `You convert parsed behavioral test scenarios into a typed execution plan.
Respond with JSON only, no prose and no markdown fences, in this exact shape:
{"testKind":"...","scenarios":[{"name":"...","context":"...","steps":[
  {"actionKind":"navigate|click|type|select|validate|wait|hover|scroll|unknown",
   "targetSelector":"",
   "payload":"string" OR {"field":"value"},
   "expectation":{"kind":"exists|equals|contains","expected":"..."} OR null,
   "description":"short natural-language instruction for this step"}]}]}
STRICT RULES:
- targetSelector MUST ALWAYS be the empty string "". Never guess selectors.
- description must always be present and usable as a standalone instruction.
- For multi-field form steps, payload is an object of field name to value.
- validate steps carry an expectation; every other step has expectation null.
Keep the scenarios in the given order and do not invent or drop steps.`

const visionClickPrompt = `You are looking at a screenshot of a web page.
Instruction: %s
Identify the single best element to click.
Respond with JSON only, no markdown fences:
{"strategy":"css|text|role","selector":"<playwright-or-css selector>",
 "confidence":"high|medium|low","reasoning":"one short sentence"}`

const visionTypePrompt = `You are looking at a screenshot of a web page with a form.
Instruction: %s
Data to enter (field name to value): %s
Identify an input selector for every field that appears on the page.
Respond with JSON only, no markdown fences:
{"strategy":"css|text","selector":"<selector of the first/primary field>",
 "fields":[{"label":"<field name from the data>","selector":"<input selector>","value":"<value to type>"}],
 "confidence":"high|medium|low","reasoning":"one short sentence"}`

const visionSelectPrompt = `You are looking at a screenshot of a web page.
Instruction: %s
Option to choose: %s
Identify the dropdown or listbox trigger element to operate.
Respond with JSON only, no markdown fences:
{"strategy":"css|text","selector":"<selector of the select/trigger element>",
 "confidence":"high|medium|low","reasoning":"one short sentence"}`

const visionValidatePrompt = `You are looking at a screenshot of a web page.
Question: is the following visible anywhere on the page? %q
Respond with JSON only, no markdown fences:
{"found":true|false,"selector":"<selector of the matching region, or empty>",
 "confidence":"high|medium|low","reasoning":"one short sentence"}`
